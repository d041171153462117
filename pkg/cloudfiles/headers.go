package cloudfiles

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	headerAuthToken        = "X-Auth-Token"
	headerETag             = "Etag"
	headerContentType      = "Content-Type"
	headerContentLength    = "Content-Length"
	headerLastModified     = "Last-Modified"
	headerDeleteAt         = "X-Delete-At"
	headerDeleteAfter      = "X-Delete-After"
	headerRemoveDeleteAt   = "X-Remove-Delete-At"
	headerCopyFrom         = "X-Copy-From"
	headerDestination      = "Destination"
	headerVersionsLocation = "X-Versions-Location"
	headerRemoveVersions   = "X-Remove-Versions-Location"
	headerObjectCount      = "X-Container-Object-Count"
	headerBytesUsed        = "X-Container-Bytes-Used"
	headerAccountContainer = "X-Account-Container-Count"
	headerAccountObjects   = "X-Account-Object-Count"
	headerAccountBytes     = "X-Account-Bytes-Used"
	headerTempURLKey       = "X-Account-Meta-Temp-Url-Key"
	headerCDNEnabled       = "X-Cdn-Enabled"
	headerCDNURI           = "X-Cdn-Uri"
	headerCDNSSLURI        = "X-Cdn-Ssl-Uri"
	headerCDNStreamingURI  = "X-Cdn-Streaming-Uri"
	headerCDNTTL           = "X-Ttl"
	headerLogRetention     = "X-Log-Retention"

	objectMetaPrefix          = "x-object-meta-"
	removeObjectMetaPrefix    = "x-remove-object-meta-"
	containerMetaPrefix       = "x-container-meta-"
	removeContainerMetaPrefix = "x-remove-container-meta-"
	accountMetaPrefix         = "x-account-meta-"
)

var (
	objectMetaKey    = regexp.MustCompile(`^x-(remove-)?object-meta-[a-z0-9_.-]+$`)
	containerMetaKey = regexp.MustCompile(`^x-(remove-)?container-meta-[a-z0-9_.-]+$`)
)

// CORSKeys is the accepted set of object CORS headers, lower-cased.
var CORSKeys = map[string]bool{
	"access-control-allow-origin":      true,
	"access-control-allow-credentials": true,
	"access-control-expose-headers":    true,
	"access-control-max-age":           true,
	"access-control-allow-methods":     true,
	"access-control-allow-headers":     true,
	"origin":                           true,
	"access-control-request-method":    true,
	"access-control-request-headers":   true,
}

// metadataUpdate is a validated metadata change set.
type metadataUpdate struct {
	set    map[string]string
	remove []string
}

// parseMetadataUpdate validates keys against pattern and splits them into
// set and remove operations. Removal keys are reported by their set-form name.
func parseMetadataUpdate(m map[string]any, pattern *regexp.Regexp, setPrefix, removePrefix string) (metadataUpdate, error) {
	u := metadataUpdate{set: map[string]string{}}
	for k, v := range m {
		key := strings.ToLower(strings.TrimSpace(k))
		if !pattern.MatchString(key) {
			return metadataUpdate{}, &ValidationError{Field: k, Err: ErrInvalidMetadata}
		}
		if strings.HasPrefix(key, removePrefix) {
			if truthy(v) {
				u.remove = append(u.remove, setPrefix+strings.TrimPrefix(key, removePrefix))
			}
			continue
		}
		u.set[key] = fmt.Sprint(v)
	}
	return u, nil
}

func validateCORS(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		key := strings.ToLower(strings.TrimSpace(k))
		if !CORSKeys[key] {
			return nil, &ValidationError{Field: k, Err: ErrInvalidCORS}
		}
		out[key] = v
	}
	return out, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return t != ""
		}
		return b
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// prefixed collects headers starting with prefix into a lower-case keyed map.
func prefixed(h http.Header, prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range h {
		key := strings.ToLower(k)
		if strings.HasPrefix(key, prefix) && len(v) > 0 {
			out[key] = v[0]
		}
	}
	return out
}

func headerInt(h http.Header, key string) int64 {
	n, _ := strconv.ParseInt(h.Get(key), 10, 64)
	return n
}

func headerBool(h http.Header, key string) bool {
	b, _ := strconv.ParseBool(h.Get(key))
	return b
}

func headerTime(h http.Header, key string) time.Time {
	t, err := http.ParseTime(h.Get(key))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func normalizeETag(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), `"`))
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
