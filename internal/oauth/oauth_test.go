package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientCredentials_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "test-client-id", r.FormValue("client_id"))
		assert.Equal(t, "test-client-secret", r.FormValue("client_secret"))
		assert.Equal(t, DefaultScope, r.FormValue("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-access-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	src, err := NewClientCredentials(Config{
		TokenURL:     server.URL,
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)
}

func TestClientCredentials_CachesAndExpires(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)

	src, err := NewClientCredentials(Config{TokenURL: server.URL, ClientID: "id", ClientSecret: "secret", HTTPClient: server.Client()})
	require.NoError(t, err)

	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	first, err := src.Token(context.Background())
	require.NoError(t, err)
	second, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// Past the lifetime minus the buffer.
	now = now.Add(56 * time.Minute)
	third, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientCredentials_Invalidate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)

	src, err := NewClientCredentials(Config{TokenURL: server.URL, ClientID: "id", ClientSecret: "secret", HTTPClient: server.Client()})
	require.NoError(t, err)

	_, err = src.Token(context.Background())
	require.NoError(t, err)
	src.Invalidate()
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientCredentials_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "concurrent-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	src, err := NewClientCredentials(Config{TokenURL: server.URL, ClientID: "id", ClientSecret: "secret", HTTPClient: server.Client()})
	require.NoError(t, err)

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tokens[idx], errs[idx] = src.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "concurrent-token", tokens[i])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientCredentials_Errors(t *testing.T) {
	t.Parallel()

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "internal server error"}`))
		}))
		defer server.Close()

		src, err := NewClientCredentials(Config{TokenURL: server.URL, ClientID: "id", ClientSecret: "secret", HTTPClient: server.Client()})
		require.NoError(t, err)
		_, err = src.Token(context.Background())
		require.ErrorContains(t, err, "500")
	})

	t.Run("empty access token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(tokenResponse{ExpiresIn: 3600})
		}))
		defer server.Close()

		src, err := NewClientCredentials(Config{TokenURL: server.URL, ClientID: "id", ClientSecret: "secret", HTTPClient: server.Client()})
		require.NoError(t, err)
		_, err = src.Token(context.Background())
		require.ErrorContains(t, err, "missing access_token")
	})
}

func TestNewClientCredentials(t *testing.T) {
	t.Parallel()

	src, err := NewClientCredentials(Config{TenantID: "contoso", ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", src.tokenURL)
	assert.Equal(t, DefaultScope, src.scope)

	_, err = NewClientCredentials(Config{ClientID: "id", ClientSecret: "secret"})
	require.Error(t, err)

	_, err = NewClientCredentials(Config{TenantID: "contoso", ClientID: "id"})
	require.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	t.Parallel()

	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = StaticToken("").Token(context.Background())
	require.Error(t, err)
}
