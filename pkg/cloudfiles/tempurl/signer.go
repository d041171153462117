package tempurl

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Query parameter names
const (
	ParamSignature = "temp_url_sig"
	ParamExpires   = "temp_url_expires"
)

// Signer generates and validates HMAC-signed temporary URLs
type Signer struct {
	key               []byte
	defaultExpiration time.Duration
	hash              func() hash.Hash
	now               func() time.Time
	customPayloadFunc func(method, path string, expiresAt int64) string
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultExpiration: time.Hour,
		hash:              defaultHash,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SignURL returns path with temp_url_sig and temp_url_expires appended.
func (s *Signer) SignURL(method, path string, expiresIn time.Duration) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoKey
	}

	if expiresIn == 0 {
		expiresIn = s.defaultExpiration
	}
	expiresAt := s.now().Add(expiresIn).Unix()

	signature := s.Signature(method, path, expiresAt)

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s%s=%s&%s=%d", path, separator, ParamSignature, signature, ParamExpires, expiresAt), nil
}

// SignURLWithBase is SignURL with baseURL prepended
func (s *Signer) SignURLWithBase(baseURL, method, path string, expiresIn time.Duration) (string, error) {
	signedPath, err := s.SignURL(method, path, expiresIn)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(baseURL, "/") + signedPath, nil
}

// Signature returns the lower-case hex HMAC for the given request triple.
func (s *Signer) Signature(method, path string, expiresAt int64) string {
	h := hmac.New(s.hash, s.key)
	h.Write([]byte(s.createPayload(method, path, expiresAt)))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateRequest checks the temp URL parameters of r against its escaped path.
// A HEAD request is accepted with a signature issued for GET.
func (s *Signer) ValidateRequest(r *http.Request) error {
	query := r.URL.Query()
	signature := query.Get(ParamSignature)
	expiresStr := query.Get(ParamExpires)

	if signature == "" {
		return ErrMissingSignature
	}
	if expiresStr == "" {
		return ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	path := r.URL.EscapedPath()
	err = s.Validate(r.Method, path, signature, expiresAt)
	if err != nil && r.Method == http.MethodHead {
		if s.Validate(http.MethodGet, path, signature, expiresAt) == nil {
			return nil
		}
	}
	return err
}

// Validate checks a signature and its expiry
func (s *Signer) Validate(method, path, signature string, expiresAt int64) error {
	if len(s.key) == 0 {
		return ErrNoKey
	}
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.Signature(method, path, expiresAt)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrInvalidSignature
	}

	return nil
}

// IsEnabled returns true if a key is configured
func (s *Signer) IsEnabled() bool {
	return len(s.key) > 0
}

func (s *Signer) createPayload(method, path string, expiresAt int64) string {
	if s.customPayloadFunc != nil {
		return s.customPayloadFunc(method, path, expiresAt)
	}
	return fmt.Sprintf("%s\n%d\n%s", method, expiresAt, path)
}
