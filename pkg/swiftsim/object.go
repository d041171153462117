package swiftsim

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage"
)

const (
	objectMetaPrefix = "x-object-meta-"
)

var corsHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Origin",
	"Access-Control-Request-Method",
	"Access-Control-Request-Headers",
}

var (
	errChecksum  = errors.New("checksum mismatch")
	errBadHeader = errors.New("invalid header")
)

func guessContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
		return ct
	}
	return "application/octet-stream"
}

func expired(o *catalog.Object, now int64) bool {
	return o.DeleteAt != nil && *o.DeleteAt <= now
}

func (s *Server) deleteBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to delete blob", "key", key, "error", err)
	}
}

// liveObject returns the current record, purging it when its delete-at time
// has passed.
func (s *Server) liveObject(ctx context.Context, account, container, name string) (*catalog.Object, error) {
	rec, err := s.catalog.GetObject(ctx, account, container, name)
	if err != nil {
		return nil, err
	}
	if !expired(rec, s.now().Unix()) {
		return rec, nil
	}
	if err := s.catalog.DeleteObject(ctx, account, container, name); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}
	s.deleteBlob(ctx, rec.BlobKey)
	s.logger.Debug("expired object purged", "account", account, "container", container, "object", name)
	return nil, catalog.ErrNotFound
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// upload stores body under a fresh blob key and returns its size and MD5.
func (s *Server) upload(ctx context.Context, account, container string, body io.Reader) (string, int64, string, error) {
	key := s.keys.Key(account, container)
	h := md5.New()
	cr := &countingReader{r: io.TeeReader(body, h)}
	if err := s.blobs.Upload(ctx, key, cr); err != nil {
		return "", 0, "", fmt.Errorf("failed to upload blob: %w", err)
	}
	s.metrics.addBytes("in", cr.n)
	return key, cr.n, hex.EncodeToString(h.Sum(nil)), nil
}

// storeObject uploads body and commits rec. A non-empty expectETag that does
// not match the payload discards the upload with errChecksum.
func (s *Server) storeObject(ctx context.Context, rec *catalog.Object, body io.Reader, expectETag string) error {
	key, size, etag, err := s.upload(ctx, rec.Account, rec.Container, body)
	if err != nil {
		return err
	}
	if expectETag != "" && !strings.EqualFold(strings.Trim(expectETag, `"`), etag) {
		s.deleteBlob(ctx, key)
		return errChecksum
	}
	rec.BlobKey, rec.Size, rec.ETag = key, size, etag
	rec.LastModified = s.now().UTC()
	if err := s.commitObject(ctx, rec); err != nil {
		s.deleteBlob(ctx, key)
		return err
	}
	return nil
}

// commitObject makes rec current. The record it replaces is moved to the
// versions container when one is configured, otherwise its blob is dropped.
// Commits to one name are serialized.
func (s *Server) commitObject(ctx context.Context, rec *catalog.Object) error {
	defer s.locks.lock(rec.Account, rec.Container, rec.Name)()

	old, err := s.catalog.GetObject(ctx, rec.Account, rec.Container, rec.Name)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return err
	}

	kept := false
	if old != nil && !expired(old, s.now().Unix()) {
		if kept, err = s.pushVersion(ctx, old); err != nil {
			return err
		}
	}
	if err := s.catalog.PutObject(ctx, rec); err != nil {
		return err
	}
	if old != nil && !kept {
		s.deleteBlob(ctx, old.BlobKey)
	}
	return nil
}

// removeObject deletes the current record and restores the newest backup
// when versioning is enabled.
func (s *Server) removeObject(ctx context.Context, account, container, name string) error {
	defer s.locks.lock(account, container, name)()

	rec, err := s.liveObject(ctx, account, container, name)
	if err != nil {
		return err
	}
	if err := s.catalog.DeleteObject(ctx, account, container, name); err != nil {
		return err
	}
	s.deleteBlob(ctx, rec.BlobKey)
	if _, err := s.popVersion(ctx, account, container, name); err != nil {
		return err
	}
	return nil
}

// objectHeaders reads the mutable attributes of a PUT or POST into rec.
func (s *Server) objectHeaders(rec *catalog.Object, h http.Header) error {
	rec.Metadata = map[string]string{}
	for k, v := range h {
		key := strings.ToLower(k)
		if strings.HasPrefix(key, objectMetaPrefix) && len(v) > 0 {
			rec.Metadata[key] = v[0]
		}
	}
	rec.CORS = map[string]string{}
	for _, k := range corsHeaders {
		if v := h.Get(k); v != "" {
			rec.CORS[strings.ToLower(k)] = v
		}
	}

	switch {
	case h.Get("X-Delete-At") != "":
		at, err := strconv.ParseInt(h.Get("X-Delete-At"), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: X-Delete-At", errBadHeader)
		}
		rec.DeleteAt = &at
	case h.Get("X-Delete-After") != "":
		after, err := strconv.ParseInt(h.Get("X-Delete-After"), 10, 64)
		if err != nil || after < 0 {
			return fmt.Errorf("%w: X-Delete-After", errBadHeader)
		}
		at := s.now().Unix() + after
		rec.DeleteAt = &at
	case h.Get("X-Remove-Delete-At") != "":
		rec.DeleteAt = nil
	}
	return nil
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	if name == "" || len(name) > maxObjectName {
		httpError(w, http.StatusBadRequest)
		return
	}
	if _, err := s.catalog.GetContainer(r.Context(), account, container); err != nil {
		s.fail(w, r, err)
		return
	}

	if from := r.Header.Get("X-Copy-From"); from != "" {
		srcContainer, srcName, ok := splitObjectPath(from)
		if !ok {
			httpError(w, http.StatusPreconditionFailed)
			return
		}
		s.copy(w, r, account, srcContainer, srcName, container, name)
		return
	}

	rec := &catalog.Object{Account: account, Container: container, Name: name}
	if err := s.objectHeaders(rec, r.Header); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.ContentType = r.Header.Get("Content-Type")
	if rec.ContentType == "" {
		rec.ContentType = guessContentType(name)
	}

	err := s.storeObject(r.Context(), rec, r.Body, r.Header.Get("Etag"))
	if errors.Is(err, errChecksum) {
		httpError(w, http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Etag", rec.ETag)
	w.Header().Set("Last-Modified", rec.LastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusCreated)
}

// splitObjectPath parses "/container/object" as sent in X-Copy-From and
// Destination.
func splitObjectPath(raw string) (string, string, bool) {
	if u, err := url.PathUnescape(raw); err == nil {
		raw = u
	}
	container, object, ok := strings.Cut(strings.TrimPrefix(raw, "/"), "/")
	if !ok || container == "" || object == "" {
		return "", "", false
	}
	return container, object, true
}

func (s *Server) copyObject(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	dstContainer, dstName, ok := splitObjectPath(r.Header.Get("Destination"))
	if !ok {
		httpError(w, http.StatusPreconditionFailed)
		return
	}
	if _, err := s.catalog.GetContainer(r.Context(), account, dstContainer); err != nil {
		s.fail(w, r, err)
		return
	}
	s.copy(w, r, account, container, name, dstContainer, dstName)
}

// copy duplicates the payload into a new blob. Metadata on the request
// overrides the source's; delete-at is not carried over.
func (s *Server) copy(w http.ResponseWriter, r *http.Request, account, srcContainer, srcName, dstContainer, dstName string) {
	ctx := r.Context()
	src, err := s.liveObject(ctx, account, srcContainer, srcName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := s.blobs.Download(ctx, src.BlobKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	rec := &catalog.Object{
		Account:     account,
		Container:   dstContainer,
		Name:        dstName,
		ContentType: src.ContentType,
		Metadata:    map[string]string{},
		CORS:        map[string]string{},
	}
	for k, v := range src.Metadata {
		rec.Metadata[k] = v
	}
	for k, v := range src.CORS {
		rec.CORS[k] = v
	}
	for k, v := range r.Header {
		key := strings.ToLower(k)
		if strings.HasPrefix(key, objectMetaPrefix) && len(v) > 0 {
			rec.Metadata[key] = v[0]
		}
	}

	if err := s.storeObject(ctx, rec, body, ""); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Debug("object copied", "account", account, "from", srcContainer+"/"+srcName, "to", dstContainer+"/"+dstName)

	w.Header().Set("Etag", rec.ETag)
	w.Header().Set("X-Copied-From", srcContainer+"/"+srcName)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) writeObjectHeaders(w http.ResponseWriter, rec *catalog.Object) {
	h := w.Header()
	h.Set("Content-Type", rec.ContentType)
	h.Set("Etag", rec.ETag)
	h.Set("Last-Modified", rec.LastModified.UTC().Format(http.TimeFormat))
	h.Set("X-Timestamp", fmt.Sprintf("%d.%05d", rec.LastModified.Unix(), rec.LastModified.Nanosecond()/10000))
	h.Set("Accept-Ranges", "bytes")
	for k, v := range rec.Metadata {
		h.Set(k, v)
	}
	for k, v := range rec.CORS {
		h.Set(k, v)
	}
	if rec.DeleteAt != nil {
		h.Set("X-Delete-At", strconv.FormatInt(*rec.DeleteAt, 10))
	}
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	rec, err := s.liveObject(r.Context(), account, container, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveObject(w, r, rec)
}

// serveObject writes rec honoring a single byte range.
func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, rec *catalog.Object) {
	s.writeObjectHeaders(w, rec)

	offset, length, partial, err := parseRange(r.Header.Get("Range"), rec.Size)
	if errors.Is(err, errUnsatisfiableRange) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rec.Size))
		httpError(w, http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		partial = false
		offset, length = 0, rec.Size
	}

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, rec.Size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	var body io.ReadCloser
	if partial {
		body, err = s.blobs.DownloadRange(r.Context(), rec.BlobKey, offset, length)
	} else {
		body, err = s.blobs.Download(r.Context(), rec.BlobKey)
	}
	if err != nil {
		w.Header().Del("Content-Range")
		w.Header().Del("Content-Length")
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	w.WriteHeader(status)
	n, err := io.Copy(w, body)
	s.metrics.addBytes("out", n)
	if err != nil {
		s.logger.Warn("object body interrupted", "object", rec.Name, "written", n, "error", err)
	}
}

// postObject replaces metadata and CORS headers. Content-Type changes only
// when sent; delete-at is kept unless set or removed.
func (s *Server) postObject(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	defer s.locks.lock(account, container, name)()

	rec, err := s.liveObject(r.Context(), account, container, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.objectHeaders(rec, r.Header); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		rec.ContentType = ct
	}
	if err := s.catalog.PutObject(r.Context(), rec); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	if err := s.removeObject(r.Context(), account, container, name); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
