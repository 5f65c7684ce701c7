package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// backendStub is a scriptable fake of the rest api, tracking per-path hits.
type backendStub struct {
	mutex    sync.Mutex
	hits     map[string]int
	handlers map[string]http.HandlerFunc
}

func newBackendStub() *backendStub {
	return &backendStub{
		hits:     map[string]int{},
		handlers: map[string]http.HandlerFunc{},
	}
}

func (s *backendStub) handle(path string, handler http.HandlerFunc) {
	s.handlers[path] = handler
}

func (s *backendStub) hitCount(path string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[path]
}

func (s *backendStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	s.hits[r.URL.Path]++
	s.mutex.Unlock()

	handler, ok := s.handlers[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, r)
}

func writeJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeExpiredToken(w http.ResponseWriter) {
	writeJson(w, http.StatusUnprocessableEntity, map[string]string{
		"case":          "JWTDecodeError",
		"error_message": "Signature has expired",
	})
}

func newTestBackend(t *testing.T, stub *backendStub) (*Backend, *Storage) {
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	storage := testStorage(t)
	backend, err := NewBackend(server.URL, storage)
	if err != nil {
		panic(err)
	}
	return backend, storage
}

func Test_ExchangeCredentials(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/token/", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(r.ParseForm()) {
			return
		}
		assert.Equal("makin@konto.app", r.PostForm.Get("username"))
		assert.Equal("trudnehaslo", r.PostForm.Get("password"))
		writeJson(w, http.StatusOK, map[string]string{
			"access_token":  "fresh access",
			"refresh_token": "fresh refresh",
			"token_type":    "bearer",
		})
	})
	backend, storage := newTestBackend(t, stub)

	err := backend.ExchangeCredentials(ctx, "makin@konto.app", "trudnehaslo")
	if !assert.NoError(err) {
		return
	}

	access, refresh, err := storage.Pair()
	assert.NoError(err)
	assert.Equal("fresh access", access)
	assert.Equal("fresh refresh", refresh)
	assert.Equal("Bearer fresh access", backend.rest.currentAuthHeader())
}

func Test_ExchangeCredentialsRejected(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/token/", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusUnauthorized, map[string]string{
			"case":          "InvalidCredentialsError",
			"error_message": "Invalid credentials",
		})
	})
	backend, storage := newTestBackend(t, stub)

	err := backend.ExchangeCredentials(ctx, "makin@konto.app", "zlehaslo")
	apiErr, ok := err.(*APIError)
	if !assert.True(ok) {
		return
	}
	assert.True(apiErr.Is(http.StatusUnauthorized, "InvalidCredentialsError"))
	assert.Equal("Invalid credentials", apiErr.Detail)

	access, _, err := storage.Pair()
	assert.NoError(err)
	assert.Empty(access)
}

func Test_CurrentIdentityWithoutCredentials(t *testing.T) {
	assert := assert.New(t)

	stub := newBackendStub()
	backend, _ := newTestBackend(t, stub)

	_, err := backend.CurrentIdentity(context.Background())
	assert.Equal(ErrNoCredentials, err)
	// no round trip was made
	assert.Equal(0, stub.hitCount("/users/me"))
}

func Test_ExpiredAccessTokenIsRefreshedOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refreshed access" {
			writeExpiredToken(w)
			return
		}
		writeJson(w, http.StatusOK, Account{Id: 21, Name: "makin", Email: "makin@konto.app"})
	})
	stub.handle("/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Token string `json:"token"`
		}{}
		assert.NoError(json.NewDecoder(r.Body).Decode(&body))
		assert.Equal("stored refresh", body.Token)
		writeJson(w, http.StatusOK, map[string]string{"access_token": "refreshed access"})
	})

	storage := testStorage(t)
	assert.NoError(storage.SetPair("stale access", "stored refresh"))

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	backend, err := NewBackend(server.URL, storage)
	if !assert.NoError(err) {
		return
	}

	account, err := backend.CurrentIdentity(ctx)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(int64(21), account.Id)
	assert.Equal(2, stub.hitCount("/users/me"))
	assert.Equal(1, stub.hitCount("/token/refresh"))

	// refreshed pair keeps the old refresh token
	access, refresh, err := storage.Pair()
	assert.NoError(err)
	assert.Equal("refreshed access", access)
	assert.Equal("stored refresh", refresh)
}

func Test_ExpiredAccessTokenRetriedOnlyOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/users/me", func(w http.ResponseWriter, r *http.Request) {
		// keeps answering expired even after refresh
		writeExpiredToken(w)
	})
	stub.handle("/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]string{"access_token": "refreshed access"})
	})

	storage := testStorage(t)
	assert.NoError(storage.SetPair("stale access", "stored refresh"))

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	backend, err := NewBackend(server.URL, storage)
	if !assert.NoError(err) {
		return
	}

	_, err = backend.CurrentIdentity(ctx)
	apiErr, ok := err.(*APIError)
	if assert.True(ok) {
		assert.True(apiErr.Is(http.StatusUnprocessableEntity, "JWTDecodeError"))
	}
	assert.Equal(2, stub.hitCount("/users/me"))
	assert.Equal(1, stub.hitCount("/token/refresh"))
}

func Test_FailedRefreshInvalidatesCredentials(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeExpiredToken(w)
	})
	stub.handle("/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusUnprocessableEntity, map[string]string{
			"case":          "RevokedTokenError",
			"error_message": "Token has been revoked",
		})
	})

	storage := testStorage(t)
	assert.NoError(storage.SetPair("stale access", "revoked refresh"))

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	backend, err := NewBackend(server.URL, storage)
	if !assert.NoError(err) {
		return
	}

	invalidations := 0
	backend.OnCredentialsInvalidated(func() { invalidations++ })

	_, err = backend.CurrentIdentity(ctx)
	assert.Error(err)
	assert.Equal(1, invalidations)
	assert.Equal(1, stub.hitCount("/users/me"))

	// credentials are gone, locally and in the client state
	access, refresh, pairErr := storage.Pair()
	assert.NoError(pairErr)
	assert.Empty(access)
	assert.Empty(refresh)
	assert.Empty(backend.rest.currentAuthHeader())

	// the next call needs no server at all
	_, err = backend.CurrentIdentity(ctx)
	assert.Equal(ErrNoCredentials, err)
}

func Test_RevokeCredentialsBestEffort(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	stub := newBackendStub()
	stub.handle("/token/revoke", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusInternalServerError, map[string]string{
			"error_message": "Internal Server Error",
		})
	})

	storage := testStorage(t)
	assert.NoError(storage.SetPair("access", "refresh"))

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	backend, err := NewBackend(server.URL, storage)
	if !assert.NoError(err) {
		return
	}

	// server side failures do not stop the local logout
	assert.NoError(backend.RevokeCredentials(ctx))
	assert.Equal(2, stub.hitCount("/token/revoke"))

	access, refresh, err := storage.Pair()
	assert.NoError(err)
	assert.Empty(access)
	assert.Empty(refresh)
	assert.Empty(backend.rest.currentAuthHeader())
}

func Test_RevokeCredentialsRevokesBothTokens(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var revoked []string
	stub := newBackendStub()
	stub.handle("/token/revoke", func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Token string `json:"token"`
		}{}
		assert.NoError(json.NewDecoder(r.Body).Decode(&body))
		revoked = append(revoked, body.Token)
		w.WriteHeader(http.StatusNoContent)
	})

	storage := testStorage(t)
	assert.NoError(storage.SetPair("access", "refresh"))

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	backend, err := NewBackend(server.URL, storage)
	if !assert.NoError(err) {
		return
	}

	assert.NoError(backend.RevokeCredentials(ctx))
	assert.Equal([]string{"access", "refresh"}, revoked)
}

func Test_FetchConfig(t *testing.T) {
	assert := assert.New(t)

	stub := newBackendStub()
	stub.handle("/config/", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]interface{}{
			"app_name":                    "Konto",
			"account_name_max_length":     50,
			"account_password_min_length": 8,
			"account_password_max_length": 128,
		})
	})
	backend, _ := newTestBackend(t, stub)

	config, err := backend.FetchConfig(context.Background())
	if !assert.NoError(err) {
		return
	}
	assert.Equal("Konto", config.AppName)
	assert.Equal(8, config.AccountPasswordMinLength)
}
