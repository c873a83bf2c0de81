package authcore

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialHasher produces salted, adaptive-cost digests. It serves two
// consumers: user passwords and refresh-token fingerprints, so that raw
// refresh tokens never reach durable storage.
type CredentialHasher struct {
	cost int
}

// NewCredentialHasher constructs a hasher with the given bcrypt cost. Costs
// outside bcrypt's supported range fall back to the library default.
func NewCredentialHasher(cost int) *CredentialHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialHasher{cost: cost}
}

// Hash returns the bcrypt digest of the secret.
func (hasher *CredentialHasher) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), hasher.cost)
	if err != nil {
		return "", fmt.Errorf("hasher.hash: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether the secret matches the digest. A malformed digest
// is a mismatch, never an error.
func (hasher *CredentialHasher) Verify(secret string, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
