package swiftsim

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

const (
	accountMetaPrefix       = "x-account-meta-"
	removeAccountMetaPrefix = "x-remove-account-meta-"
)

type accountTotals struct {
	containers int64
	objects    int64
	bytes      int64
}

func (s *Server) totals(ctx context.Context, account string) (accountTotals, []*catalog.Container, error) {
	containers, err := s.catalog.ListContainers(ctx, account, catalog.ListParams{})
	if err != nil {
		return accountTotals{}, nil, err
	}
	t := accountTotals{containers: int64(len(containers))}
	for _, c := range containers {
		st, err := s.catalog.ContainerStats(ctx, account, c.Name)
		if err != nil {
			return accountTotals{}, nil, err
		}
		t.objects += st.Count
		t.bytes += st.Bytes
	}
	return t, containers, nil
}

func (s *Server) writeAccountHeaders(w http.ResponseWriter, acct *catalog.Account, t accountTotals) {
	h := w.Header()
	h.Set("X-Account-Container-Count", strconv.FormatInt(t.containers, 10))
	h.Set("X-Account-Object-Count", strconv.FormatInt(t.objects, 10))
	h.Set("X-Account-Bytes-Used", strconv.FormatInt(t.bytes, 10))
	for k, v := range acct.Metadata {
		h.Set(k, v)
	}
}

func (s *Server) headAccount(w http.ResponseWriter, r *http.Request) {
	name := param(r, "account")
	acct, err := s.catalog.GetAccount(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, _, err := s.totals(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeAccountHeaders(w, acct, t)
	w.WriteHeader(http.StatusNoContent)
}

type containerEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// getAccount lists containers. Only the JSON format is served.
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	name := param(r, "account")
	acct, err := s.catalog.GetAccount(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, _, err := s.totals(r.Context(), name)
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
	containers, err := s.catalog.ListContainers(r.Context(), name, params)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeAccountHeaders(w, acct, t)
	if len(containers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out := make([]containerEntry, 0, len(containers))
	for _, c := range containers {
		st, err := s.catalog.ContainerStats(r.Context(), name, c.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, containerEntry{Name: c.Name, Count: st.Count, Bytes: st.Bytes})
	}
	render.JSON(w, r, out)
}

// postAccount updates account metadata, or runs a bulk delete.
func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.URL.Query()["bulk-delete"]; ok {
		s.bulkDelete(w, r)
		return
	}

	name := param(r, "account")
	acct, err := s.catalog.GetAccount(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if acct.Metadata == nil {
		acct.Metadata = map[string]string{}
	}
	applyMetaDelta(acct.Metadata, r.Header, accountMetaPrefix, removeAccountMetaPrefix)
	if err := s.catalog.PutAccount(r.Context(), acct); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyMetaDelta sets prefixed headers and clears keys named by the removal
// prefix or sent with an empty value.
func applyMetaDelta(meta map[string]string, h http.Header, setPrefix, removePrefix string) {
	for k, v := range h {
		key := strings.ToLower(k)
		switch {
		case strings.HasPrefix(key, removePrefix):
			delete(meta, setPrefix+strings.TrimPrefix(key, removePrefix))
		case strings.HasPrefix(key, setPrefix):
			if len(v) == 0 || v[0] == "" {
				delete(meta, key)
				continue
			}
			meta[key] = v[0]
		}
	}
}

type bulkDeleteResult struct {
	NumberDeleted  int        `json:"Number Deleted"`
	NumberNotFound int        `json:"Number Not Found"`
	ResponseStatus string     `json:"Response Status"`
	ResponseBody   string     `json:"Response Body"`
	Errors         [][]string `json:"Errors"`
}

// bulkDelete removes newline separated container/object paths.
func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request) {
	account := param(r, "account")
	res := bulkDeleteResult{Errors: [][]string{}}

	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		raw := line
		if u, err := url.PathUnescape(line); err == nil {
			line = u
		}
		container, object, _ := strings.Cut(strings.TrimPrefix(line, "/"), "/")

		var err error
		if object == "" {
			err = s.removeContainer(r.Context(), account, container)
		} else {
			err = s.removeObject(r.Context(), account, container, object)
		}
		switch {
		case err == nil:
			res.NumberDeleted++
		case errors.Is(err, catalog.ErrNotFound):
			res.NumberNotFound++
		case errors.Is(err, errContainerNotEmpty):
			res.Errors = append(res.Errors, []string{raw, "409 Conflict"})
		default:
			s.logger.Error("bulk delete entry failed", "path", raw, "error", err)
			res.Errors = append(res.Errors, []string{raw, "500 Internal Server Error"})
		}
	}
	if err := scanner.Err(); err != nil {
		httpError(w, http.StatusBadRequest)
		return
	}

	res.ResponseStatus = "200 OK"
	if len(res.Errors) > 0 {
		res.ResponseStatus = "400 Bad Request"
	}
	render.JSON(w, r, res)
}

func listParams(q url.Values) (catalog.ListParams, error) {
	p := catalog.ListParams{
		Prefix: q.Get("prefix"),
		Marker: q.Get("marker"),
		Limit:  10000,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.New("invalid limit")
		}
		if n > 0 && n < p.Limit {
			p.Limit = n
		}
	}
	return p, nil
}
