package tempurl

import "errors"

// Signature validation errors
var (
	// ErrNoKey is returned when signing without a temp URL key
	ErrNoKey = errors.New("tempurl: no key configured")

	// ErrMissingSignature is returned when temp_url_sig is absent
	ErrMissingSignature = errors.New("tempurl: missing temp_url_sig parameter")

	// ErrMissingExpiration is returned when temp_url_expires is absent
	ErrMissingExpiration = errors.New("tempurl: missing temp_url_expires parameter")

	// ErrInvalidExpiration is returned when temp_url_expires is not a unix timestamp
	ErrInvalidExpiration = errors.New("tempurl: invalid temp_url_expires parameter")

	// ErrExpired is returned when the URL is past its expiry
	ErrExpired = errors.New("tempurl: URL has expired")

	// ErrInvalidSignature is returned when the signature does not match
	ErrInvalidSignature = errors.New("tempurl: invalid signature")
)

// IsAuthError reports whether err came from validating a signed URL
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMissingExpiration) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidSignature)
}
