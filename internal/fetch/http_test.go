package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGetter_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "assetsync-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	}))
	defer server.Close()

	g := NewHTTPGetter(HTTPOptions{UserAgent: "assetsync-test"})
	body, err := g.Get(context.Background(), server.URL+"/octocat.png")

	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), body)
}

func TestHTTPGetter_NonSuccessStatus(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusBadGateway} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			defer server.Close()

			_, err := NewHTTPGetter(DefaultHTTPOptions()).Get(context.Background(), server.URL)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, code, statusErr.Code)
		})
	}
}

func TestHTTPGetter_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	g := NewHTTPGetter(HTTPOptions{MaxBytes: 16})
	_, err := g.Get(context.Background(), server.URL)

	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPGetter_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPGetter(DefaultHTTPOptions()).Get(context.Background(), url)
	assert.Error(t, err)
}

func TestHTTPGetter_InvalidLocator(t *testing.T) {
	_, err := NewHTTPGetter(DefaultHTTPOptions()).Get(context.Background(), "://bad")
	assert.Error(t, err)
}
