package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrExpired   = errors.New("token expired")
	ErrRevoked   = errors.New("token revoked")
	ErrMalformed = errors.New("token malformed")
)

type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

func (c *Claims) UserId() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return id, nil
}

// Issuer signs and verifies the access/refresh pair. Revocation goes through
// a buntdb denylist keyed by jti, entries expire together with the token.
type Issuer struct {
	Secret     []byte
	Denylist   *buntdb.DB
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewIssuer(secret []byte, denylist *buntdb.DB) *Issuer {
	return &Issuer{
		Secret:     secret,
		Denylist:   denylist,
		AccessTTL:  defaultAccessTTL,
		RefreshTTL: defaultRefreshTTL,
	}
}

func (i *Issuer) IssueAccess(userId int64) (string, error) {
	return i.issue(userId, TypeAccess, i.AccessTTL)
}

func (i *Issuer) IssueRefresh(userId int64) (string, error) {
	return i.issue(userId, TypeRefresh, i.RefreshTTL)
}

func (i *Issuer) issue(userId int64, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userId, 10),
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, type and the denylist. Returns ErrExpired,
// ErrRevoked or ErrMalformed.
func (i *Issuer) Verify(raw string, tokenType string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, i.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if claims.Type != tokenType {
		return nil, ErrMalformed
	}

	revoked, err := i.revoked(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("denylist check: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke denylists a token until its natural expiry. Expired tokens are
// accepted, revoking them is a no-op that still succeeds.
func (i *Issuer) Revoke(raw string) error {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, i.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation())
	if err != nil {
		return ErrMalformed
	}

	remaining := time.Second
	if claims.ExpiresAt != nil {
		if until := time.Until(claims.ExpiresAt.Time); until > remaining {
			remaining = until
		}
	}
	err = i.Denylist.Update(func(tx *buntdb.Tx) error {
		options := &buntdb.SetOptions{
			Expires: true,
			TTL:     remaining,
		}
		_, _, err := tx.Set("revoked:"+claims.ID, "true", options)
		return err
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (i *Issuer) revoked(jti string) (bool, error) {
	err := i.Denylist.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get("revoked:" + jti)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, buntdb.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("bunt view: %w", err)
	}
}

func (i *Issuer) key(t *jwt.Token) (interface{}, error) {
	return i.Secret, nil
}
