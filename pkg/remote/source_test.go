package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource(t *testing.T) {
	t.Run("successful fetch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		src := &HTTPSource{URL: srv.URL}
		payload, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte(`[]`), payload)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		src := &HTTPSource{URL: srv.URL, Attempts: 5}
		payload, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte(`[]`), payload)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors do not retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		src := &HTTPSource{URL: srv.URL, Attempts: 5}
		_, err := src.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrFetch)
		assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
	})

	t.Run("exhausted retries fail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		src := &HTTPSource{URL: srv.URL, Attempts: 2}
		_, err := src.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("cancellation surfaces the context error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		src := &HTTPSource{URL: srv.URL}
		_, err := src.Fetch(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestStaticSource(t *testing.T) {
	src := &StaticSource{Payload: []byte(`[{"slug": "exp-a"}]`)}

	payload, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, src.Payload, payload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
