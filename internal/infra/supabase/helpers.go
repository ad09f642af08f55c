package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// PostgREST Prefer headers.
const (
	preferRows   = "return=representation"
	preferUpsert = "resolution=merge-duplicates,return=minimal"
	preferCreate = "resolution=ignore-duplicates,return=representation"
)

// send executes one PostgREST request against /rest/v1/<path>. A nil
// payload sends no body. Non-2xx answers become *statusError.
func (c *Client) send(ctx context.Context, method, path string, payload any, prefer string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fatal(fmt.Errorf("encode %s body: %w", path, err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/rest/v1/"+path, body)
	if err != nil {
		return nil, fatal(err)
	}
	c.setHeaders(req, prefer)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("supabase: transport error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(raw)),
		)
		return nil, &statusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}

	c.logger.Debug("supabase: ok",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return raw, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, "")
}

// insert returns the created rows.
func (c *Client) insert(ctx context.Context, table string, row any) ([]byte, error) {
	return c.send(ctx, http.MethodPost, table, row, preferRows)
}

// create inserts row unless a row with the same key exists. Replaying it
// after an ambiguous failure is safe.
func (c *Client) create(ctx context.Context, table, keyColumn string, row any) ([]byte, error) {
	return c.send(ctx, http.MethodPost, table+"?on_conflict="+keyColumn, row, preferCreate)
}

// upsert merges row on the conflict column.
func (c *Client) upsert(ctx context.Context, table, conflictColumn string, row any) error {
	_, err := c.send(ctx, http.MethodPost, table+"?on_conflict="+conflictColumn, row, preferUpsert)
	return err
}

// patch returns the updated rows so callers can tell "no row matched" apart.
func (c *Client) patch(ctx context.Context, path string, fields map[string]any) ([]byte, error) {
	return c.send(ctx, http.MethodPatch, path, fields, preferRows)
}

// remove returns the deleted rows.
func (c *Client) remove(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, path, nil, preferRows)
}

// eq builds "<table>?<column>=eq.<value>".
func eq(table, column, value string) string {
	return table + "?" + column + "=eq." + url.QueryEscape(value)
}

// emptyRows reports whether a representation body carries no rows.
func emptyRows(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || string(trimmed) == "[]"
}

// decodeRows unmarshals a PostgREST array; decoding failures are not retried.
func decodeRows[T any](body []byte, what string) ([]T, error) {
	if emptyRows(body) {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fatal(fmt.Errorf("decode %s: %w", what, err))
	}
	return rows, nil
}
