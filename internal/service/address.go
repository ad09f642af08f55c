package service

import (
	"context"
	"strings"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/port"

	"go.uber.org/zap"
)

// AddressService fills the address block of the intake form from a CEP.
type AddressService struct {
	lookup  port.AddressLookup
	cache   port.Cache[*domain.Address]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAddressService creates the address service.
func NewAddressService(lookup port.AddressLookup, cache port.Cache[*domain.Address], metrics *observability.Metrics, logger *zap.Logger) *AddressService {
	return &AddressService{lookup: lookup, cache: cache, metrics: metrics, logger: logger}
}

// NormalizeCEP keeps the digits of raw and requires exactly eight of them.
func NormalizeCEP(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == '-' || r == '.' || r == ' ' {
			return -1
		}
		return 'x'
	}, raw)
	if len(digits) != 8 || strings.ContainsRune(digits, 'x') {
		return "", &domain.ErrValidation{Field: "cep", Message: "CEP deve ter 8 dígitos"}
	}
	return digits, nil
}

// Lookup resolves a CEP, serving repeated lookups from the cache.
func (s *AddressService) Lookup(ctx context.Context, raw string) (*domain.Address, error) {
	ctx, span := tracer.Start(ctx, "AddressService.Lookup")
	defer span.End()

	cep, err := NormalizeCEP(raw)
	if err != nil {
		return nil, err
	}

	addr, hit, err := s.cache.GetOrLoad(ctx, "cep:"+cep, func(ctx context.Context) (*domain.Address, error) {
		return s.lookup.LookupCEP(ctx, cep)
	})
	if hit {
		s.metrics.IncrCacheHit("address")
		return addr, nil
	}
	s.metrics.IncrCacheMiss("address")
	if err != nil {
		s.logger.Warn("address: lookup failed", zap.String("cep", cep), zap.Error(err))
		return nil, err
	}
	return addr, nil
}
