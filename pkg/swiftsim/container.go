package swiftsim

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/klauspost/compress/gzip"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

const (
	containerMetaPrefix       = "x-container-meta-"
	removeContainerMetaPrefix = "x-remove-container-meta-"

	listingTimeFormat = "2006-01-02T15:04:05.000000"
	listingPageSize   = 1000
	maxObjectName     = 1024
)

var errContainerNotEmpty = errors.New("container not empty")

func validContainerName(name string) bool {
	return name != "" && len(name) <= 256 && !strings.Contains(name, "/")
}

func (s *Server) writeContainerHeaders(w http.ResponseWriter, ct *catalog.Container, st catalog.ContainerStats) {
	h := w.Header()
	h.Set("X-Container-Object-Count", strconv.FormatInt(st.Count, 10))
	h.Set("X-Container-Bytes-Used", strconv.FormatInt(st.Bytes, 10))
	if ct.VersionsLocation != "" {
		h.Set("X-Versions-Location", ct.VersionsLocation)
	}
	for k, v := range ct.Metadata {
		h.Set(k, v)
	}
}

// applyContainerHeaders copies metadata and versioning headers onto ct.
func applyContainerHeaders(ct *catalog.Container, h http.Header) {
	if ct.Metadata == nil {
		ct.Metadata = map[string]string{}
	}
	applyMetaDelta(ct.Metadata, h, containerMetaPrefix, removeContainerMetaPrefix)
	if _, ok := h["X-Versions-Location"]; ok {
		ct.VersionsLocation = h.Get("X-Versions-Location")
	}
	if h.Get("X-Remove-Versions-Location") != "" {
		ct.VersionsLocation = ""
	}
}

// ensureContainer creates the container when missing and reports whether it did.
func (s *Server) ensureContainer(ctx context.Context, account, name string, h http.Header) (bool, error) {
	ct, err := s.catalog.GetContainer(ctx, account, name)
	if errors.Is(err, catalog.ErrNotFound) {
		ct = &catalog.Container{Account: account, Name: name, CreatedAt: s.now().UTC()}
		applyContainerHeaders(ct, h)
		err = s.catalog.CreateContainer(ctx, ct)
		if errors.Is(err, catalog.ErrExists) {
			return false, nil
		}
		return err == nil, err
	}
	if err != nil {
		return false, err
	}
	applyContainerHeaders(ct, h)
	return false, s.catalog.UpdateContainer(ctx, ct)
}

func (s *Server) putContainer(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	if !validContainerName(name) {
		httpError(w, http.StatusBadRequest)
		return
	}
	if format, ok := r.URL.Query()["extract-archive"]; ok {
		s.extractArchive(w, r, account, name, strings.Join(format, ""))
		return
	}

	created, err := s.ensureContainer(r.Context(), account, name, r.Header)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if created {
		s.logger.Info("container created", "account", account, "container", name)
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) headContainer(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.catalog.ContainerStats(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeContainerHeaders(w, ct, st)
	w.WriteHeader(http.StatusNoContent)
}

type objectEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Bytes        int64  `json:"bytes"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
}

type subdirEntry struct {
	Subdir string `json:"subdir"`
}

// listing returns up to limit entries after marker. With a delimiter, names
// sharing a prefix up to the delimiter collapse into one subdir entry.
func (s *Server) listing(ctx context.Context, account, container string, params catalog.ListParams, delim string) ([]any, error) {
	out := []any{}
	now := s.now().Unix()
	cursor := params.Marker
	lastSubdir := ""

	for {
		page, err := s.catalog.ListObjects(ctx, account, container, catalog.ListParams{Prefix: params.Prefix, Marker: cursor, Limit: listingPageSize})
		if err != nil {
			return nil, err
		}
		for _, o := range page {
			cursor = o.Name
			if expired(o, now) {
				continue
			}
			if delim != "" {
				rest := strings.TrimPrefix(o.Name, params.Prefix)
				if i := strings.Index(rest, delim); i >= 0 {
					sub := params.Prefix + rest[:i+len(delim)]
					if sub == lastSubdir || sub <= params.Marker {
						continue
					}
					lastSubdir = sub
					out = append(out, subdirEntry{Subdir: sub})
					if len(out) >= params.Limit {
						return out, nil
					}
					continue
				}
			}
			out = append(out, objectEntry{
				Name:         o.Name,
				Hash:         o.ETag,
				Bytes:        o.Size,
				ContentType:  o.ContentType,
				LastModified: o.LastModified.UTC().Format(listingTimeFormat),
			})
			if len(out) >= params.Limit {
				return out, nil
			}
		}
		if len(page) < listingPageSize {
			return out, nil
		}
	}
}

// getContainer lists objects. Only the JSON format is served.
func (s *Server) getContainer(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.catalog.ContainerStats(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	params, err := listParams(q)
	if err != nil {
		httpError(w, http.StatusBadRequest)
		return
	}
	entries, err := s.listing(r.Context(), account, name, params, q.Get("delimiter"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeContainerHeaders(w, ct, st)
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	render.JSON(w, r, entries)
}

func (s *Server) postContainer(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	applyContainerHeaders(ct, r.Header)
	if err := s.catalog.UpdateContainer(r.Context(), ct); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeContainer deletes an empty container. Expired objects do not count.
func (s *Server) removeContainer(ctx context.Context, account, name string) error {
	if _, err := s.catalog.GetContainer(ctx, account, name); err != nil {
		return err
	}
	entries, err := s.listing(ctx, account, name, catalog.ListParams{Limit: 1}, "")
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return errContainerNotEmpty
	}

	// only expired objects remain
	objects, err := s.catalog.ListObjects(ctx, account, name, catalog.ListParams{})
	if err != nil {
		return err
	}
	for _, o := range objects {
		s.deleteBlob(ctx, o.BlobKey)
	}
	return s.catalog.DeleteContainer(ctx, account, name)
}

func (s *Server) deleteContainer(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	err := s.removeContainer(r.Context(), account, name)
	switch {
	case errors.Is(err, errContainerNotEmpty):
		httpError(w, http.StatusConflict)
	case err != nil:
		s.fail(w, r, err)
	default:
		s.logger.Info("container deleted", "account", account, "container", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

type extractResult struct {
	NumberFilesCreated int        `json:"Number Files Created"`
	ResponseStatus     string     `json:"Response Status"`
	ResponseBody       string     `json:"Response Body"`
	Errors             [][]string `json:"Errors"`
}

// extractArchive stores each regular file of a tar stream as an object.
func (s *Server) extractArchive(w http.ResponseWriter, r *http.Request, account, container, format string) {
	var src io.Reader = r.Body
	switch format {
	case "tar":
	case "tar.gz", "tgz":
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest)
			return
		}
		defer gz.Close()
		src = gz
	default:
		httpError(w, http.StatusBadRequest)
		return
	}

	if _, err := s.ensureContainer(r.Context(), account, container, http.Header{}); err != nil {
		s.fail(w, r, err)
		return
	}

	res := extractResult{Errors: [][]string{}}
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.ResponseStatus = "400 Bad Request"
			res.ResponseBody = fmt.Sprintf("invalid tar stream: %v", err)
			render.JSON(w, r, res)
			return
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := strings.TrimLeft(strings.TrimPrefix(hdr.Name, "./"), "/")
		if name == "" || len(name) > maxObjectName {
			res.Errors = append(res.Errors, []string{hdr.Name, "400 Bad Request"})
			continue
		}

		rec := &catalog.Object{
			Account:     account,
			Container:   container,
			Name:        name,
			ContentType: guessContentType(name),
			Metadata:    map[string]string{},
			CORS:        map[string]string{},
		}
		if err := s.storeObject(r.Context(), rec, tr, ""); err != nil {
			s.logger.Error("archive entry failed", "object", name, "error", err)
			res.Errors = append(res.Errors, []string{container + "/" + name, "500 Internal Server Error"})
			continue
		}
		res.NumberFilesCreated++
	}

	res.ResponseStatus = "201 Created"
	if len(res.Errors) > 0 {
		res.ResponseStatus = "400 Bad Request"
	}
	s.logger.Info("archive extracted", "account", account, "container", container, "files", res.NumberFilesCreated)
	render.JSON(w, r, res)
}
