package database

import (
	"context"
	"errors"
	"time"
)

// TokenKey is the fixed storage key of the bearer token.
const TokenKey = "authToken"

const storeTimeout = 2 * time.Second

// TokenStore persists the bearer token in the storage table. It satisfies
// apiclient.TokenStore.
type TokenStore struct {
	db *Database
}

func NewTokenStore(db *Database) *TokenStore {
	return &TokenStore{db: db}
}

// Get returns the stored token, or "" when none is stored.
func (s *TokenStore) Get() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	token, err := s.db.GetValue(ctx, TokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return token, err
}

func (s *TokenStore) Set(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	return s.db.SetValue(ctx, TokenKey, token)
}

// Clear removes the token. Clearing an absent token is not an error.
func (s *TokenStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	return s.db.DeleteValue(ctx, TokenKey)
}
