package cloudfiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/tempurl"
)

// ObjectState is the object's attributes as of the last successful call.
type ObjectState struct {
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	Metadata      map[string]string
	CORS          map[string]string
	DeleteAt      *int64
}

func (s ObjectState) clone() ObjectState {
	out := s
	out.Metadata = copyMap(s.Metadata)
	out.CORS = copyMap(s.CORS)
	if s.DeleteAt != nil {
		at := *s.DeleteAt
		out.DeleteAt = &at
	}
	return out
}

func stateFromHeader(h http.Header) ObjectState {
	st := ObjectState{
		ContentType:   h.Get(headerContentType),
		ContentLength: headerInt(h, headerContentLength),
		ETag:          normalizeETag(h.Get(headerETag)),
		LastModified:  headerTime(h, headerLastModified),
		Metadata:      prefixed(h, objectMetaPrefix),
		CORS:          map[string]string{},
	}
	for k, v := range h {
		key := strings.ToLower(k)
		if CORSKeys[key] && len(v) > 0 {
			st.CORS[key] = v[0]
		}
	}
	if v := h.Get(headerDeleteAt); v != "" {
		if at, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.DeleteAt = &at
		}
	}
	return st
}

// StorageObject is a handle to one object. Its state is a snapshot replaced
// wholesale after each successful call; concurrent readers of one handle
// never see a partial update.
type StorageObject struct {
	client    *Client
	container *Container
	name      string

	mu          sync.RWMutex
	state       ObjectState
	loaded      bool
	pendingCORS map[string]string
}

// ObjectOption configures CreateObject
type ObjectOption func(*objectConfig)

type objectConfig struct {
	exists bool
	cors   map[string]string
}

// WithExists requires the object to exist; construction fails with
// ErrNoSuchObject otherwise.
func WithExists() ObjectOption {
	return func(c *objectConfig) {
		c.exists = true
	}
}

// WithCORS sets CORS headers to be sent with the first write
func WithCORS(cors map[string]string) ObjectOption {
	return func(c *objectConfig) {
		c.cors = cors
	}
}

func newStorageObject(ct *Container, name string) *StorageObject {
	return &StorageObject{
		client:    ct.client,
		container: ct,
		name:      name,
		state: ObjectState{
			ContentType: guessContentType(name),
			Metadata:    map[string]string{},
			CORS:        map[string]string{},
		},
	}
}

func guessContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
		return ct
	}
	return "application/octet-stream"
}

// Name returns the object name
func (o *StorageObject) Name() string { return o.name }

// Container returns the owning container
func (o *StorageObject) Container() *Container { return o.container }

// State returns a copy of the current snapshot
func (o *StorageObject) State() ObjectState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.clone()
}

// ContentType returns the content type
func (o *StorageObject) ContentType() string { return o.State().ContentType }

// ContentLength returns the size in bytes
func (o *StorageObject) ContentLength() int64 { return o.State().ContentLength }

// ETag returns the lower-case hex MD5 of the content
func (o *StorageObject) ETag() string { return o.State().ETag }

// Metadata returns the x-object-meta-* headers, keyed in lower case
func (o *StorageObject) Metadata() map[string]string { return o.State().Metadata }

// CORS returns the object's CORS headers, keyed in lower case
func (o *StorageObject) CORS() map[string]string { return o.State().CORS }

// ScheduledDeletion returns the unix time the object is scheduled for deletion, or nil
func (o *StorageObject) ScheduledDeletion() *int64 { return o.State().DeleteAt }

// CDNURI returns the public CDN URL, empty when the container is not published
func (o *StorageObject) CDNURI() string {
	return o.cdnURL(o.container.CDNURI())
}

// CDNSSLURI returns the HTTPS CDN URL
func (o *StorageObject) CDNSSLURI() string {
	return o.cdnURL(o.container.CDNSSLURI())
}

// CDNStreamingURI returns the streaming CDN URL
func (o *StorageObject) CDNStreamingURI() string {
	return o.cdnURL(o.container.CDNStreamingURI())
}

func (o *StorageObject) cdnURL(base string) string {
	if base == "" || !o.container.CDNEnabled() {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + escapePath(o.name)
}

func (o *StorageObject) path() string {
	return objectPath(o.container.name, o.name)
}

func (o *StorageObject) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ObjectError{Container: o.container.name, Object: o.name, Op: op, Err: err}
}

func (o *StorageObject) apply(st ObjectState) {
	o.mu.Lock()
	o.state = st
	o.loaded = true
	o.mu.Unlock()
}

// Load refreshes the state with a HEAD request.
func (o *StorageObject) Load(ctx context.Context) error {
	resp, err := o.client.do(ctx, call{method: http.MethodHead, service: storageService, path: o.path()})
	if err != nil {
		return o.wrap("load", err)
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return o.wrap("load", err)
	}
	resp.close()
	o.apply(stateFromHeader(resp.Header))
	return nil
}

func (o *StorageObject) ensureLoaded(ctx context.Context) error {
	o.mu.RLock()
	loaded := o.loaded
	o.mu.RUnlock()
	if loaded {
		return nil
	}
	return o.Load(ctx)
}

// get issues a GET for br and returns the response positioned at the start of
// the requested bytes and limited to them.
func (o *StorageObject) get(ctx context.Context, br byteRange) (io.ReadCloser, error) {
	header := http.Header{}
	if h := br.header(); h != "" {
		header.Set("Range", h)
	}
	resp, err := o.client.do(ctx, call{method: http.MethodGet, service: storageService, path: o.path(), header: header})
	if err != nil {
		return nil, err
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return nil, err
	}

	body := resp.Body
	if resp.StatusCode == http.StatusOK && !br.whole() {
		// range ignored by the server
		if _, err := io.CopyN(io.Discard, body, br.offset); err != nil && err != io.EOF {
			body.Close()
			return nil, err
		}
	}
	if br.size >= 0 {
		return readCloser{Reader: io.LimitReader(body, br.size), Closer: body}, nil
	}
	return body, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Read returns the selected bytes of the object. With WithOutput the bytes are
// streamed to the sink in WithOutputChunkSize pieces and nil is returned. A
// range starting at or past the end of the object reads as empty, as it does
// for Chunks.
func (o *StorageObject) Read(ctx context.Context, opts ...ReadOption) ([]byte, error) {
	cfg := newReadConfig(opts)
	if err := cfg.validate(); err != nil {
		return nil, o.wrap("read", err)
	}
	nothing := func() ([]byte, error) {
		if cfg.output != nil {
			return nil, nil
		}
		return []byte{}, nil
	}
	br := cfg.byteRange()
	if br.empty() {
		return nothing()
	}

	body, err := o.get(ctx, br)
	if StatusCode(err) == http.StatusRequestedRangeNotSatisfiable {
		return nothing()
	}
	if err != nil {
		return nil, o.wrap("read", err)
	}
	defer body.Close()

	if cfg.output != nil {
		_, err := copyChunks(ctx, cfg.output, body, cfg.outputChunkSize)
		return nil, o.wrap("read", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, o.wrap("read", err)
	}
	return data, nil
}

// Chunks returns a lazy iterator over consecutive WithChunkSize windows of the
// selected range, fetching each window with its own ranged GET. When no size
// is given the object length is resolved with one HEAD before the first GET.
func (o *StorageObject) Chunks(ctx context.Context, opts ...ReadOption) *ChunkIterator {
	cfg := newReadConfig(opts)
	if err := cfg.validate(); err != nil {
		return errIterator(o.wrap("chunks", err))
	}

	cursor := cfg.offset
	end := int64(-1)
	if cfg.size >= 0 {
		end = cfg.offset + cfg.size
	}

	return newChunkIterator(ctx, func(ctx context.Context) ([]byte, error) {
		if end < 0 {
			if err := o.Load(ctx); err != nil {
				return nil, err
			}
			end = o.ContentLength()
		}
		w, ok := nextWindow(cursor, end, cfg.chunkSize)
		if !ok {
			return nil, io.EOF
		}

		body, err := o.get(ctx, w)
		if err != nil {
			if StatusCode(err) == http.StatusRequestedRangeNotSatisfiable {
				return nil, io.EOF
			}
			return nil, o.wrap("chunks", err)
		}
		defer body.Close()

		chunk, err := io.ReadAll(body)
		if err != nil {
			return nil, o.wrap("chunks", err)
		}
		cursor += int64(len(chunk))
		if int64(len(chunk)) < w.size {
			// object shorter than requested
			end = cursor
		}
		return chunk, nil
	})
}

// WriteOption configures Write
type WriteOption func(*writeConfig)

type writeConfig struct {
	chunkSize   int
	verify      bool
	contentType string
}

// WithWriteChunkSize streams the upload with chunked transfer encoding, one
// segment per chunk of n bytes.
func WithWriteChunkSize(n int) WriteOption {
	return func(c *writeConfig) {
		c.chunkSize = n
	}
}

// WithVerify toggles comparing the local MD5 with the server's ETag. Default on.
func WithVerify(verify bool) WriteOption {
	return func(c *writeConfig) {
		c.verify = verify
	}
}

// WithContentType overrides the content type sent with the upload
func WithContentType(ct string) WriteOption {
	return func(c *writeConfig) {
		c.contentType = ct
	}
}

// Write replaces the object's content with src. In-memory payloads written
// without a chunk size go out as one fixed-length body; everything else is
// streamed chunk by chunk. The state is refreshed only after success.
func (o *StorageObject) Write(ctx context.Context, src ChunkSource, opts ...WriteOption) error {
	cfg := writeConfig{verify: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.chunkSize < 0 {
		return o.wrap("write", fmt.Errorf("%w: negative chunk size", ErrInvalidRange))
	}

	o.mu.RLock()
	contentType := o.state.ContentType
	cors := copyMap(o.pendingCORS)
	o.mu.RUnlock()
	if cfg.contentType != "" {
		contentType = cfg.contentType
	}

	header := http.Header{}
	header.Set(headerContentType, contentType)
	for k, v := range cors {
		header.Set(k, v)
	}

	var (
		body    func() (io.Reader, int64, error)
		current *hashingReader
		source  *chunkedBody
		digest  string
	)
	if payload, ok := src.(Bytes); ok && cfg.chunkSize == 0 {
		digest = md5Hex(payload)
		if cfg.verify {
			header.Set(headerETag, digest)
		}
		body = func() (io.Reader, int64, error) {
			return bytes.NewReader(payload), int64(len(payload)), nil
		}
	} else {
		chunk := cfg.chunkSize
		if chunk == 0 {
			chunk = DefaultChunkSize
		}
		body = func() (io.Reader, int64, error) {
			// a failed source is not replayed
			if err := source.Err(); err != nil {
				return nil, 0, err
			}
			source = newChunkedBody(src.Chunks(ctx, WithChunkSize(chunk)))
			current = newHashingReader(source)
			return current, -1, nil
		}
	}

	resp, err := o.client.do(ctx, call{method: http.MethodPut, service: storageService, path: o.path(), header: header, body: body})
	if srcErr := source.Err(); srcErr != nil {
		if err == nil {
			resp.close()
		}
		return o.wrap("write", srcErr)
	}
	if err != nil {
		return o.wrap("write", err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		resp.close()
		return o.wrap("write", &IntegrityError{Expected: digest, Actual: ""})
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return o.wrap("write", err)
	}
	resp.close()

	if current != nil {
		digest = current.Sum()
	}
	if cfg.verify {
		if remote := normalizeETag(resp.Header.Get(headerETag)); remote != digest {
			return o.wrap("write", &IntegrityError{Expected: digest, Actual: remote})
		}
	}

	o.mu.Lock()
	o.pendingCORS = nil
	o.mu.Unlock()

	return o.Load(ctx)
}

// WriteChunk replaces the object's content with p, so an object used as a
// Read output ends up holding only the last chunk.
func (o *StorageObject) WriteChunk(ctx context.Context, p []byte) error {
	return o.Write(ctx, Bytes(bytes.Clone(p)))
}

// postHeaders renders st as the full header set of an object POST, which
// replaces every mutable attribute on the server.
func postHeaders(st ObjectState) http.Header {
	h := http.Header{}
	for k, v := range st.Metadata {
		h.Set(k, v)
	}
	for k, v := range st.CORS {
		h.Set(k, v)
	}
	if st.ContentType != "" {
		h.Set(headerContentType, st.ContentType)
	}
	if st.DeleteAt != nil {
		h.Set(headerDeleteAt, strconv.FormatInt(*st.DeleteAt, 10))
	}
	return h
}

func (o *StorageObject) post(ctx context.Context, op string, header http.Header) error {
	resp, err := o.client.do(ctx, call{method: http.MethodPost, service: storageService, path: o.path(), header: header})
	if err != nil {
		return o.wrap(op, err)
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return o.wrap(op, err)
	}
	resp.close()
	return o.Load(ctx)
}

// UpdateMetadata sets x-object-meta-* keys and clears x-remove-object-meta-*
// keys with truthy values. Any other key fails with ErrInvalidMetadata before
// a request is sent.
func (o *StorageObject) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	update, err := parseMetadataUpdate(metadata, objectMetaKey, objectMetaPrefix, removeObjectMetaPrefix)
	if err != nil {
		return o.wrap("update_metadata", err)
	}
	if err := o.ensureLoaded(ctx); err != nil {
		return o.wrap("update_metadata", err)
	}

	st := o.State()
	for k, v := range update.set {
		st.Metadata[k] = v
	}
	for _, k := range update.remove {
		delete(st.Metadata, k)
	}
	return o.post(ctx, "update_metadata", postHeaders(st))
}

// UpdateCORS merges cors into the object's CORS headers.
func (o *StorageObject) UpdateCORS(ctx context.Context, cors map[string]string) error {
	valid, err := validateCORS(cors)
	if err != nil {
		return o.wrap("update_cors", err)
	}
	if err := o.ensureLoaded(ctx); err != nil {
		return o.wrap("update_cors", err)
	}

	st := o.State()
	for k, v := range valid {
		st.CORS[k] = v
	}
	return o.post(ctx, "update_cors", postHeaders(st))
}

// DeleteAt schedules deletion at the unix time at; nil cancels the schedule.
func (o *StorageObject) DeleteAt(ctx context.Context, at *int64) error {
	if err := o.ensureLoaded(ctx); err != nil {
		return o.wrap("delete_at", err)
	}
	st := o.State()
	st.DeleteAt = at
	h := postHeaders(st)
	if at == nil {
		h.Set(headerRemoveDeleteAt, "1")
	}
	return o.post(ctx, "delete_at", h)
}

// DeleteAfter schedules deletion d from now, as measured by the server; nil
// cancels the schedule.
func (o *StorageObject) DeleteAfter(ctx context.Context, d *time.Duration) error {
	if d == nil {
		return o.DeleteAt(ctx, nil)
	}
	if err := o.ensureLoaded(ctx); err != nil {
		return o.wrap("delete_after", err)
	}
	st := o.State()
	st.DeleteAt = nil
	h := postHeaders(st)
	h.Set(headerDeleteAfter, strconv.FormatInt(int64(d.Round(time.Second)/time.Second), 10))
	return o.post(ctx, "delete_after", h)
}

// Delete removes the object. With versioning enabled on the container the
// newest backup, if any, becomes current.
func (o *StorageObject) Delete(ctx context.Context) error {
	resp, err := o.client.do(ctx, call{method: http.MethodDelete, service: storageService, path: o.path()})
	if err != nil {
		return o.wrap("delete", err)
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return o.wrap("delete", err)
	}
	resp.close()

	o.mu.Lock()
	o.state = ObjectState{ContentType: o.state.ContentType, Metadata: map[string]string{}, CORS: map[string]string{}}
	o.loaded = false
	o.mu.Unlock()
	return nil
}

// CopyTo copies content and metadata to dst on the server. Scheduled deletion
// is not carried over. dst is reloaded.
func (o *StorageObject) CopyTo(ctx context.Context, dst *StorageObject) error {
	resp, err := o.client.do(ctx, call{
		method:  "COPY",
		service: storageService,
		path:    o.path(),
		header:  http.Header{headerDestination: {dst.path()}},
	})
	if err != nil {
		return o.wrap("copy", err)
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.close()
		return o.wrap("copy", streamCopy(ctx, o, dst))
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return o.wrap("copy", err)
	}
	resp.close()
	return dst.Load(ctx)
}

// CopyFrom replaces this object with a server-side copy of src.
func (o *StorageObject) CopyFrom(ctx context.Context, src *StorageObject) error {
	resp, err := o.client.do(ctx, call{
		method:  http.MethodPut,
		service: storageService,
		path:    o.path(),
		header:  http.Header{headerCopyFrom: {src.path()}},
		body: func() (io.Reader, int64, error) {
			return http.NoBody, 0, nil
		},
	})
	if err != nil {
		return o.wrap("copy", err)
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.close()
		return o.wrap("copy", streamCopy(ctx, src, o))
	}
	if err := resp.check(ErrNoSuchObject); err != nil {
		return o.wrap("copy", err)
	}
	resp.close()
	return o.Load(ctx)
}

// streamCopy moves content through the client when the server has no copy verb.
func streamCopy(ctx context.Context, src, dst *StorageObject) error {
	if err := src.Load(ctx); err != nil {
		return err
	}
	st := src.State()
	if err := dst.Write(ctx, src, WithContentType(st.ContentType)); err != nil {
		return err
	}
	if len(st.Metadata) == 0 {
		return nil
	}
	meta := make(map[string]any, len(st.Metadata))
	for k, v := range st.Metadata {
		meta[k] = v
	}
	return dst.UpdateMetadata(ctx, meta)
}

// TempURL returns a URL granting method access to the object for ttl without
// an auth token. The account key is installed on first use.
func (o *StorageObject) TempURL(ctx context.Context, method string, ttl time.Duration) (string, error) {
	key, err := o.client.TempURLKey(ctx)
	if err != nil {
		return "", o.wrap("temp_url", err)
	}
	base, err := o.client.endpoint(ctx, storageService)
	if err != nil {
		return "", o.wrap("temp_url", err)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", o.wrap("temp_url", err)
	}
	if ttl <= 0 {
		return "", o.wrap("temp_url", errors.New("ttl must be positive"))
	}

	signer := tempurl.New(tempurl.WithKey(key))
	signed, err := signer.SignURLWithBase(u.Scheme+"://"+u.Host, strings.ToUpper(method), u.EscapedPath()+o.path(), ttl)
	return signed, o.wrap("temp_url", err)
}
