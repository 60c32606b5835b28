package providers

import (
	"context"
	"fmt"
	"time"
)

type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SealedTokenStore encrypts the registry token before it reaches the
// underlying store, so neither redis nor postgres holds it in clear text.
type SealedTokenStore struct {
	store  TokenStore
	sealer Sealer
}

func CreateSealedTokenStore(store TokenStore, sealer Sealer) *SealedTokenStore {
	return &SealedTokenStore{store: store, sealer: sealer}
}

// LoadToken treats an undecryptable token as absent so a rotated key only
// costs one extra authentication.
func (s *SealedTokenStore) LoadToken(ctx context.Context) (string, time.Time, error) {
	sealed, expiresAt, err := s.store.LoadToken(ctx)
	if err != nil || sealed == "" {
		return "", time.Time{}, err
	}
	token, err := s.sealer.Decrypt(sealed)
	if err != nil {
		return "", time.Time{}, nil
	}
	return token, expiresAt, nil
}

func (s *SealedTokenStore) SaveToken(ctx context.Context, token string, expiresAt time.Time) error {
	sealed, err := s.sealer.Encrypt(token)
	if err != nil {
		return fmt.Errorf("seal registry token: %w", err)
	}
	return s.store.SaveToken(ctx, sealed, expiresAt)
}
