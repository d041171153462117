package tempurl

import (
	"crypto/sha1"
	"hash"
	"time"
)

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithKey sets the account temp URL key used for HMAC signing
func WithKey(key string) Option {
	return func(s *Signer) {
		s.key = []byte(key)
	}
}

// WithDefaultExpiration sets the lifetime used when SignURL is given a zero ttl.
// Default is 1 hour.
func WithDefaultExpiration(d time.Duration) Option {
	return func(s *Signer) {
		s.defaultExpiration = d
	}
}

// WithHash selects the HMAC digest. Default is SHA-1, which is what Cloud Files
// accepts; newer Swift clusters also accept SHA-256.
func WithHash(fn func() hash.Hash) Option {
	return func(s *Signer) {
		s.hash = fn
	}
}

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithCustomPayloadFunc replaces the METHOD\nEXPIRES\nPATH payload format
func WithCustomPayloadFunc(fn func(method, path string, expiresAt int64) string) Option {
	return func(s *Signer) {
		s.customPayloadFunc = fn
	}
}

func defaultHash() hash.Hash { return sha1.New() }
