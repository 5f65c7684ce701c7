package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNoCredentials is returned by CurrentIdentity when no access token is
// stored, saving a guaranteed 401 round trip.
var ErrNoCredentials = errors.New("no credentials stored")

// Account is the identity the backend reports for the current credentials.
type Account struct {
	Id        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarUrl string `json:"avatar_url"`
}

// Config mirrors the public config endpoint.
type Config struct {
	AppName                  string `json:"app_name"`
	AccountNameMaxLength     int    `json:"account_name_max_length"`
	AccountPasswordMinLength int    `json:"account_password_min_length"`
	AccountPasswordMaxLength int    `json:"account_password_max_length"`
}

// Backend owns the credential pair and exposes the rest surface. It never
// hands tokens out; callers only learn whether requests succeed.
type Backend struct {
	rest    *restClient
	storage *Storage

	mutex                  sync.Mutex
	invalidTokensListeners []func()
}

func NewBackend(apiUrl string, storage *Storage) (*Backend, error) {
	b := &Backend{
		rest:    newRestClient(apiUrl),
		storage: storage,
	}
	b.rest.onUnauthorized = b.refreshTokens
	b.rest.onInvalidTokens = b.invalidateTokens

	access, _, err := storage.Pair()
	if err != nil {
		return nil, fmt.Errorf("read stored credentials: %w", err)
	}
	if access != "" {
		b.rest.setAuthHeader("Bearer " + access)
	}
	return b, nil
}

// OnCredentialsInvalidated registers a callback fired at most once per
// invalidation event, from whatever goroutine noticed the failed refresh.
func (b *Backend) OnCredentialsInvalidated(cb func()) {
	b.mutex.Lock()
	b.invalidTokensListeners = append(b.invalidTokensListeners, cb)
	b.mutex.Unlock()
}

// ExchangeCredentials trades email+password for a fresh token pair.
func (b *Backend) ExchangeCredentials(ctx context.Context, email string, password string) error {
	tokens := struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}{}
	err := b.rest.do(ctx, request{
		method: "POST",
		path:   "/token/",
		form:   formValues(map[string]string{"username": email, "password": password}),
		out:    &tokens,
	})
	if err != nil {
		return err
	}
	return b.setTokens(tokens.AccessToken, tokens.RefreshToken)
}

func (b *Backend) CurrentIdentity(ctx context.Context) (Account, error) {
	if b.rest.currentAuthHeader() == "" {
		return Account{}, ErrNoCredentials
	}
	var account Account
	err := b.rest.do(ctx, request{method: "GET", path: "/users/me", out: &account})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// RevokeCredentials revokes both tokens best-effort and always clears local
// storage. Revocation failures are logged, never surfaced.
func (b *Backend) RevokeCredentials(ctx context.Context) error {
	access, refresh, err := b.storage.Pair()
	if err != nil {
		return fmt.Errorf("read stored credentials: %w", err)
	}
	for _, raw := range []string{access, refresh} {
		if raw == "" {
			continue
		}
		err := b.rest.do(ctx, request{
			method:           "POST",
			path:             "/token/revoke",
			jsonBody:         map[string]string{"token": raw},
			skipErrorHandler: true,
		})
		if err != nil {
			logrus.WithError(err).Warningln("Could not revoke token.")
		}
	}
	return b.clearCredentials()
}

func (b *Backend) refreshTokens(ctx context.Context) error {
	_, refresh, err := b.storage.Pair()
	if err != nil {
		return fmt.Errorf("read stored credentials: %w", err)
	}
	if refresh == "" {
		return ErrNoCredentials
	}

	refreshed := struct {
		AccessToken string `json:"access_token"`
	}{}
	err = b.rest.do(ctx, request{
		method:           "POST",
		path:             "/token/refresh",
		jsonBody:         map[string]string{"token": refresh},
		out:              &refreshed,
		skipErrorHandler: true,
	})
	if err != nil {
		return err
	}
	return b.setTokens(refreshed.AccessToken, refresh)
}

func (b *Backend) invalidateTokens(ctx context.Context) error {
	if err := b.clearCredentials(); err != nil {
		return err
	}
	b.mutex.Lock()
	listeners := append([]func(){}, b.invalidTokensListeners...)
	b.mutex.Unlock()
	for _, cb := range listeners {
		cb()
	}
	return nil
}

func (b *Backend) setTokens(access string, refresh string) error {
	if err := b.storage.SetPair(access, refresh); err != nil {
		return err
	}
	b.rest.setAuthHeader("Bearer " + access)
	return nil
}

func (b *Backend) clearCredentials() error {
	b.rest.setAuthHeader("")
	return b.storage.Clear()
}

func (b *Backend) Register(ctx context.Context, name string, email string, password string) error {
	return b.rest.do(ctx, request{
		method:   "POST",
		path:     "/users/",
		jsonBody: map[string]string{"name": name, "email": email, "password": password},
	})
}

func (b *Backend) ConfirmEmail(ctx context.Context, key string) error {
	return b.rest.do(ctx, request{
		method:   "POST",
		path:     "/users/email-confirmation",
		jsonBody: map[string]string{"key": key},
	})
}

func (b *Backend) RequestPasswordReset(ctx context.Context, email string) error {
	return b.rest.do(ctx, request{
		method:   "POST",
		path:     "/users/password/reset",
		jsonBody: map[string]string{"email": email},
	})
}

func (b *Backend) SetPassword(ctx context.Context, key string, password string) error {
	return b.rest.do(ctx, request{
		method:   "POST",
		path:     "/users/password/set",
		jsonBody: map[string]string{"key": key, "password": password},
	})
}

func (b *Backend) ChangePassword(ctx context.Context, oldPassword string, newPassword string) error {
	return b.rest.do(ctx, request{
		method:   "POST",
		path:     "/users/me/password",
		jsonBody: map[string]string{"old_password": oldPassword, "new_password": newPassword},
	})
}

func (b *Backend) UpdateDetails(ctx context.Context, details Account) (Account, error) {
	var updated Account
	err := b.rest.do(ctx, request{
		method: "PATCH",
		path:   "/users/me",
		jsonBody: map[string]string{
			"name":       details.Name,
			"email":      details.Email,
			"avatar_url": details.AvatarUrl,
		},
		out: &updated,
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

func (b *Backend) DeleteAccount(ctx context.Context) error {
	return b.rest.do(ctx, request{method: "DELETE", path: "/users/me"})
}

func (b *Backend) FetchConfig(ctx context.Context) (Config, error) {
	var config Config
	err := b.rest.do(ctx, request{method: "GET", path: "/config/", out: &config})
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

func formValues(fields map[string]string) url.Values {
	values := make(url.Values, len(fields))
	for key, value := range fields {
		values.Set(key, value)
	}
	return values
}
