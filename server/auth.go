package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt cost used by HashAPIKey.
	DefaultCost = 12

	// MinCost is the lowest cost ValidateAPIKeyHash accepts.
	MinCost = 10
)

var (
	ErrEmptyAPIKey    = errors.New("server: api key cannot be empty")
	ErrAPIKeyMismatch = errors.New("server: api key does not match")
	ErrInvalidHash    = errors.New("server: invalid api key hash")
	ErrCostTooLow     = errors.New("server: api key hash cost is below minimum")
)

// HashAPIKey returns a bcrypt hash of key for FLUX_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	return HashAPIKeyWithCost(key, DefaultCost)
}

// HashAPIKeyWithCost is HashAPIKey with an explicit cost.
func HashAPIKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrEmptyAPIKey
	}
	if cost < MinCost {
		return "", ErrCostTooLow
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ValidateAPIKeyHash checks that hash is a bcrypt hash of acceptable cost.
func ValidateAPIKeyHash(hash string) error {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return ErrInvalidHash
	}
	if cost < MinCost {
		return ErrCostTooLow
	}
	return nil
}

// VerifyAPIKey compares key against hash.
func VerifyAPIKey(hash, key string) error {
	if key == "" {
		return ErrEmptyAPIKey
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrAPIKeyMismatch
	default:
		return ErrInvalidHash
	}
}

// apiKeyVerifier remembers the digest of the last accepted key so that only
// the first request with a given key pays the bcrypt cost.
type apiKeyVerifier struct {
	hash string

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	cached   bool
}

func newAPIKeyVerifier(hash string) *apiKeyVerifier {
	return &apiKeyVerifier{hash: hash}
}

func (v *apiKeyVerifier) Verify(key string) error {
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	hit := v.cached && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.RUnlock()
	if hit {
		return nil
	}

	if err := VerifyAPIKey(v.hash, key); err != nil {
		return err
	}
	v.mu.Lock()
	v.accepted = digest
	v.cached = true
	v.mu.Unlock()
	return nil
}
