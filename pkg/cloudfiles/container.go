package cloudfiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
)

// DefaultBatchSize is the number of names per bulk-delete request
const DefaultBatchSize = 100

// DefaultCDNTTL is the edge cache lifetime used when EnableCDN gets zero
const DefaultCDNTTL = 72 * time.Hour

// ContainerState is the container's attributes as of the last Load.
type ContainerState struct {
	Count            int64
	Size             int64
	Metadata         map[string]string
	VersionsLocation string
	CDNEnabled       bool
	CDNURI           string
	CDNSSLURI        string
	CDNStreamingURI  string
	CDNTTL           time.Duration
	CDNLogRetention  bool
}

// Container is a handle to one container.
type Container struct {
	client *Client
	name   string

	mu    sync.RWMutex
	state ContainerState
}

// Name returns the container name
func (c *Container) Name() string { return c.name }

// State returns a copy of the last loaded state
func (c *Container) State() ContainerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.Metadata = copyMap(c.state.Metadata)
	return st
}

// Count returns the number of objects
func (c *Container) Count() int64 { return c.State().Count }

// Size returns the bytes stored
func (c *Container) Size() int64 { return c.State().Size }

// Metadata returns the x-container-meta-* headers, keyed in lower case
func (c *Container) Metadata() map[string]string { return c.State().Metadata }

// VersionsLocation returns the backup container name, or ""
func (c *Container) VersionsLocation() string { return c.State().VersionsLocation }

// CDNEnabled reports whether the container is published
func (c *Container) CDNEnabled() bool { return c.State().CDNEnabled }

// CDNURI returns the container's CDN base URL
func (c *Container) CDNURI() string { return c.State().CDNURI }

// CDNSSLURI returns the container's HTTPS CDN base URL
func (c *Container) CDNSSLURI() string { return c.State().CDNSSLURI }

// CDNStreamingURI returns the container's streaming CDN base URL
func (c *Container) CDNStreamingURI() string { return c.State().CDNStreamingURI }

func (c *Container) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ContainerError{Container: c.name, Op: op, Err: err}
}

func (c *Container) path() string {
	return containerPath(c.name)
}

// Load refreshes storage and CDN state. Missing CDN service in the catalog
// leaves the CDN fields empty.
func (c *Container) Load(ctx context.Context) error {
	resp, err := c.client.do(ctx, call{method: http.MethodHead, service: storageService, path: c.path()})
	if err != nil {
		return c.wrap("load", err)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return c.wrap("load", err)
	}
	resp.close()

	st := ContainerState{
		Count:            headerInt(resp.Header, headerObjectCount),
		Size:             headerInt(resp.Header, headerBytesUsed),
		Metadata:         prefixed(resp.Header, containerMetaPrefix),
		VersionsLocation: resp.Header.Get(headerVersionsLocation),
	}

	cdn, err := c.client.do(ctx, call{method: http.MethodHead, service: cdnService, path: c.path()})
	switch {
	case errors.Is(err, identity.ErrUnknownService):
	case err != nil:
		return c.wrap("load", err)
	case cdn.StatusCode == http.StatusNotFound:
		cdn.close()
	default:
		if err := cdn.check(nil); err != nil {
			return c.wrap("load", err)
		}
		cdn.close()
		st.CDNEnabled = headerBool(cdn.Header, headerCDNEnabled)
		st.CDNURI = cdn.Header.Get(headerCDNURI)
		st.CDNSSLURI = cdn.Header.Get(headerCDNSSLURI)
		st.CDNStreamingURI = cdn.Header.Get(headerCDNStreamingURI)
		st.CDNTTL = time.Duration(headerInt(cdn.Header, headerCDNTTL)) * time.Second
		st.CDNLogRetention = headerBool(cdn.Header, headerLogRetention)
	}

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	return nil
}

// Delete removes the container; ErrContainerNotEmpty when it holds objects.
func (c *Container) Delete(ctx context.Context) error {
	resp, err := c.client.do(ctx, call{method: http.MethodDelete, service: storageService, path: c.path()})
	if err != nil {
		return c.wrap("delete", err)
	}
	if resp.StatusCode == http.StatusConflict {
		resp.close()
		return c.wrap("delete", ErrContainerNotEmpty)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return c.wrap("delete", err)
	}
	resp.close()
	c.client.logger.Info("container deleted", "container", c.name)
	return nil
}

func (c *Container) post(ctx context.Context, op string, svc service, header http.Header) error {
	resp, err := c.client.do(ctx, call{method: http.MethodPost, service: svc, path: c.path(), header: header})
	if err != nil {
		return c.wrap(op, err)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return c.wrap(op, err)
	}
	resp.close()
	return c.Load(ctx)
}

// UpdateMetadata sets x-container-meta-* keys and clears
// x-remove-container-meta-* keys with truthy values. Unlike objects, keys not
// named are left untouched.
func (c *Container) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	update, err := parseMetadataUpdate(metadata, containerMetaKey, containerMetaPrefix, removeContainerMetaPrefix)
	if err != nil {
		return c.wrap("update_metadata", err)
	}
	h := http.Header{}
	for k, v := range update.set {
		h.Set(k, v)
	}
	for _, k := range update.remove {
		h.Set(removeContainerMetaPrefix+strings.TrimPrefix(k, containerMetaPrefix), "1")
	}
	return c.post(ctx, "update_metadata", storageService, h)
}

// EnableObjectVersioning keeps overwritten and deleted versions in backup.
func (c *Container) EnableObjectVersioning(ctx context.Context, backup *Container) error {
	return c.post(ctx, "enable_versioning", storageService, http.Header{headerVersionsLocation: {backup.Name()}})
}

// DisableObjectVersioning stops keeping versions; existing backups remain.
func (c *Container) DisableObjectVersioning(ctx context.Context) error {
	return c.post(ctx, "disable_versioning", storageService, http.Header{headerRemoveVersions: {"1"}})
}

// EnableCDN publishes the container with the given edge TTL.
func (c *Container) EnableCDN(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCDNTTL
	}
	resp, err := c.client.do(ctx, call{
		method:  http.MethodPut,
		service: cdnService,
		path:    c.path(),
		header: http.Header{
			headerCDNEnabled: {"True"},
			headerCDNTTL:     {strconv.FormatInt(int64(ttl/time.Second), 10)},
		},
	})
	if err != nil {
		return c.wrap("enable_cdn", err)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return c.wrap("enable_cdn", err)
	}
	resp.close()
	return c.Load(ctx)
}

// DisableCDN unpublishes the container.
func (c *Container) DisableCDN(ctx context.Context) error {
	return c.post(ctx, "disable_cdn", cdnService, http.Header{headerCDNEnabled: {"False"}})
}

// EnableLogRetention keeps CDN access logs.
func (c *Container) EnableLogRetention(ctx context.Context) error {
	return c.post(ctx, "enable_log_retention", cdnService, http.Header{headerLogRetention: {"True"}})
}

// DisableLogRetention stops keeping CDN access logs.
func (c *Container) DisableLogRetention(ctx context.Context) error {
	return c.post(ctx, "disable_log_retention", cdnService, http.Header{headerLogRetention: {"False"}})
}

// CreateObject returns a handle for name. No request is made unless
// WithExists is given.
func (c *Container) CreateObject(ctx context.Context, name string, opts ...ObjectOption) (*StorageObject, error) {
	var cfg objectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if name == "" {
		return nil, c.wrap("create_object", &ValidationError{Field: name, Err: errors.New("empty object name")})
	}

	obj := newStorageObject(c, name)
	if cfg.cors != nil {
		cors, err := validateCORS(cfg.cors)
		if err != nil {
			return nil, c.wrap("create_object", err)
		}
		obj.pendingCORS = cors
		obj.state.CORS = copyMap(cors)
	}
	if cfg.exists {
		if err := obj.Load(ctx); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// GetObject loads an existing object; ErrNoSuchObject when absent.
func (c *Container) GetObject(ctx context.Context, name string) (*StorageObject, error) {
	return c.CreateObject(ctx, name, WithExists())
}

// DeleteObject removes one object by name.
func (c *Container) DeleteObject(ctx context.Context, name string) error {
	obj := newStorageObject(c, name)
	return obj.Delete(ctx)
}

// BulkDeleteResult totals a DeleteObjects call.
type BulkDeleteResult struct {
	Deleted  int
	NotFound int
	Errors   [][]string
}

type bulkDeleteResponse struct {
	NumberDeleted  int        `json:"Number Deleted"`
	NumberNotFound int        `json:"Number Not Found"`
	ResponseStatus string     `json:"Response Status"`
	ResponseBody   string     `json:"Response Body"`
	Errors         [][]string `json:"Errors"`
}

// DeleteObjects removes names with the account bulk-delete operation,
// batchSize names per request. Names that do not exist are counted, not
// reported as errors.
func (c *Container) DeleteObjects(ctx context.Context, names []string, batchSize int) (*BulkDeleteResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	result := &BulkDeleteResult{}
	for start := 0; start < len(names); start += batchSize {
		end := start + batchSize
		if end > len(names) {
			end = len(names)
		}
		batch, err := c.bulkDelete(ctx, names[start:end])
		if err != nil {
			return result, c.wrap("delete_objects", err)
		}
		result.Deleted += batch.NumberDeleted
		result.NotFound += batch.NumberNotFound
		result.Errors = append(result.Errors, batch.Errors...)
	}
	if len(result.Errors) > 0 {
		return result, c.wrap("delete_objects", fmt.Errorf("%d objects could not be deleted", len(result.Errors)))
	}
	return result, nil
}

func (c *Container) bulkDelete(ctx context.Context, names []string) (*bulkDeleteResponse, error) {
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(url.PathEscape(c.name))
		sb.WriteByte('/')
		sb.WriteString(escapePath(name))
		sb.WriteByte('\n')
	}
	payload := sb.String()

	resp, err := c.client.do(ctx, call{
		method:  http.MethodPost,
		service: storageService,
		query:   url.Values{"bulk-delete": {"true"}},
		header: http.Header{
			"Content-Type": {"text/plain"},
			"Accept":       {"application/json"},
		},
		body: func() (io.Reader, int64, error) {
			return strings.NewReader(payload), int64(len(payload)), nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := resp.check(nil); err != nil {
		return nil, err
	}
	defer resp.close()

	var out bulkDeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode bulk delete response: %w", err)
	}
	return &out, nil
}

// DeleteAllObjects empties the container, listing and deleting batchSize
// names at a time.
func (c *Container) DeleteAllObjects(ctx context.Context, batchSize int) (*BulkDeleteResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	total := &BulkDeleteResult{}
	marker := ""
	for {
		names, err := c.List(ctx, ListOptions{Marker: marker, Limit: batchSize})
		if err != nil {
			return total, err
		}
		if len(names) == 0 {
			return total, nil
		}
		res, err := c.DeleteObjects(ctx, names, batchSize)
		if res != nil {
			total.Deleted += res.Deleted
			total.NotFound += res.NotFound
			total.Errors = append(total.Errors, res.Errors...)
		}
		if err != nil {
			return total, err
		}
		marker = names[len(names)-1]
	}
}

// ArchiveFormat is an upload format accepted by ExtractArchive
type ArchiveFormat string

// Supported archive formats
const (
	ArchiveTar   ArchiveFormat = "tar"
	ArchiveTarGz ArchiveFormat = "tar.gz"
)

// ArchiveResult reports an ExtractArchive upload.
type ArchiveResult struct {
	FilesCreated int
	Errors       [][]string
}

type extractResponse struct {
	NumberFilesCreated int        `json:"Number Files Created"`
	ResponseStatus     string     `json:"Response Status"`
	ResponseBody       string     `json:"Response Body"`
	Errors             [][]string `json:"Errors"`
}

// ExtractArchive uploads a tar archive whose entries become objects in the
// container. A reader that is also an io.Seeker can be replayed on retry.
func (c *Container) ExtractArchive(ctx context.Context, r io.Reader, format ArchiveFormat) (*ArchiveResult, error) {
	if format != ArchiveTar && format != ArchiveTarGz {
		return nil, c.wrap("extract_archive", &ValidationError{Field: string(format), Err: errors.New("unsupported archive format")})
	}

	src := Reader(r)
	resp, err := c.client.do(ctx, call{
		method:  http.MethodPut,
		service: storageService,
		path:    c.path(),
		query:   url.Values{"extract-archive": {string(format)}},
		header:  http.Header{"Accept": {"application/json"}},
		body: func() (io.Reader, int64, error) {
			return newChunkedBody(src.Chunks(ctx)), -1, nil
		},
	})
	if err != nil {
		return nil, c.wrap("extract_archive", err)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return nil, c.wrap("extract_archive", err)
	}
	defer resp.close()

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wrap("extract_archive", fmt.Errorf("failed to decode response: %w", err))
	}
	result := &ArchiveResult{FilesCreated: out.NumberFilesCreated, Errors: out.Errors}
	if len(out.Errors) > 0 {
		return result, c.wrap("extract_archive", fmt.Errorf("%d entries failed: %s", len(out.Errors), out.ResponseStatus))
	}
	return result, c.Load(ctx)
}
