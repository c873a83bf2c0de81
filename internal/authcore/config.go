package authcore

import "time"

// Config carries the signing keys and lifetimes for both token domains.
// The access and refresh keys must differ: compromise of one key must not
// allow forging tokens of the other type.
type Config struct {
	AccessSigningKey  []byte
	RefreshSigningKey []byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	BcryptCost        int
}
