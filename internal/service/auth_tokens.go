package service

import (
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer    = "sales-intake"
	tokenUseAccess = "access"
)

// JWTClaims is the payload of an access token. The subject is the user id.
type JWTClaims struct {
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
	Use  string      `json:"use"`
	jwt.RegisteredClaims
}

// Actor returns the session identity carried by the token.
func (c *JWTClaims) Actor() domain.Actor {
	return domain.Actor{UserID: c.Subject, Name: c.Name, Role: c.Role}
}

// ValidateAccessToken checks signature, issuer and expiry of an HS256 token
// and returns its claims.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.jwtSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}
	if claims.Use != tokenUseAccess || claims.Subject == "" || !claims.Role.IsValid() {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Name: user.Name,
		Role: user.Role,
		Use:  tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}
