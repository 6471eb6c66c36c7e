// Package remote provides catalog sources: the external collaborators that
// deliver experiment catalogs to the engine.
//
// The engine itself never fetches; callers wire a Source into the client and
// decide when to invoke fetch/apply. Two sources ship with the module:
//
//   - HTTPSource: fetches a collection endpoint with retry/backoff
//   - StaticSource: serves a fixed payload, for tests and the CLI
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrFetch reports a catalog fetch that did not produce a payload.
var ErrFetch = errors.New("catalog fetch failed")

// Source delivers the raw experiment catalog as opaque JSON. The engine
// parses and validates it; sources only move bytes.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches the catalog from a collection endpoint.
type HTTPSource struct {
	// URL is the full collection endpoint.
	URL string

	// Client defaults to a client with a 30 second timeout.
	Client *http.Client

	// Attempts bounds retries, default 3. Retries back off exponentially
	// and respect context cancellation.
	Attempts uint
}

func (s *HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Fetch downloads the catalog payload, retrying transient failures. An
// interrupted fetch returns the context error and leaves no side effects.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	attempts := s.Attempts
	if attempts == 0 {
		attempts = 3
	}

	var payload []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := s.client().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, s.URL)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			payload, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return payload, nil
}

// StaticSource serves a fixed payload.
type StaticSource struct {
	Payload []byte
}

func (s *StaticSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Payload, nil
}
