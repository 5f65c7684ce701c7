package client

import (
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"
)

// Fixed keys of the durable credential pair.
const (
	accessTokenKey  = "auth:access_token"
	refreshTokenKey = "auth:refresh_token"
)

// Storage persists the credential pair between application runs. A partial
// pair reads as no credentials at all.
type Storage struct {
	Buntdb *buntdb.DB
}

func (s *Storage) Pair() (access string, refresh string, err error) {
	err = s.Buntdb.View(func(tx *buntdb.Tx) error {
		var err error
		access, err = tx.Get(accessTokenKey)
		if err != nil {
			return err
		}
		refresh, err = tx.Get(refreshTokenKey)
		return err
	})
	switch {
	case err == nil:
		return access, refresh, nil
	case errors.Is(err, buntdb.ErrNotFound):
		return "", "", nil
	default:
		return "", "", fmt.Errorf("bunt view: %w", err)
	}
}

func (s *Storage) SetPair(access string, refresh string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(accessTokenKey, access, nil); err != nil {
			return err
		}
		_, _, err := tx.Set(refreshTokenKey, refresh, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *Storage) Clear() error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		for _, key := range []string{accessTokenKey, refreshTokenKey} {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}
