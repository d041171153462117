package swiftsim

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

// DefaultCDNTTL is the edge TTL in seconds when a publish request sends none
const DefaultCDNTTL = 259200

func cdnFlag(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

func formatFlag(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// applyCDNHeaders reads X-Cdn-Enabled, X-Ttl and X-Log-Retention into ct.
func applyCDNHeaders(ct *catalog.Container, h http.Header) bool {
	if v := h.Get("X-Cdn-Enabled"); v != "" {
		b, ok := cdnFlag(v)
		if !ok {
			return false
		}
		ct.CDNEnabled = b
	}
	if v := h.Get("X-Ttl"); v != "" {
		ttl, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ttl < 0 {
			return false
		}
		ct.CDNTTL = ttl
	}
	if v := h.Get("X-Log-Retention"); v != "" {
		b, ok := cdnFlag(v)
		if !ok {
			return false
		}
		ct.CDNLogRetention = b
	}
	return true
}

// putCDN publishes a container. Unlike POST it enables the container unless
// told otherwise.
func (s *Server) putCDN(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created := !ct.CDNConfigured
	if created {
		ct.CDNTTL = DefaultCDNTTL
	}
	ct.CDNConfigured, ct.CDNEnabled = true, true
	if !applyCDNHeaders(ct, r.Header) {
		httpError(w, http.StatusBadRequest)
		return
	}
	if err := s.catalog.UpdateContainer(r.Context(), ct); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeCDNHeaders(w, r, ct)
	s.logger.Info("container published", "account", account, "container", name, "enabled", ct.CDNEnabled)
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postCDN(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ct.CDNConfigured {
		httpError(w, http.StatusNotFound)
		return
	}
	if !applyCDNHeaders(ct, r.Header) {
		httpError(w, http.StatusBadRequest)
		return
	}
	if err := s.catalog.UpdateContainer(r.Context(), ct); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) headCDN(w http.ResponseWriter, r *http.Request) {
	account, name := param(r, "account"), param(r, "container")
	ct, err := s.catalog.GetContainer(r.Context(), account, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ct.CDNConfigured {
		httpError(w, http.StatusNotFound)
		return
	}
	s.writeCDNHeaders(w, r, ct)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeCDNHeaders(w http.ResponseWriter, r *http.Request, ct *catalog.Container) {
	host := r.Host
	suffix := "/" + ct.Account + "/" + ct.Name
	h := w.Header()
	h.Set("X-Cdn-Enabled", formatFlag(ct.CDNEnabled))
	h.Set("X-Cdn-Uri", baseURL(r)+"/cdn-serve"+suffix)
	h.Set("X-Cdn-Ssl-Uri", "https://"+host+"/cdn-serve"+suffix)
	h.Set("X-Cdn-Streaming-Uri", baseURL(r)+"/cdn-stream"+suffix)
	h.Set("X-Ttl", strconv.FormatInt(ct.CDNTTL, 10))
	h.Set("X-Log-Retention", formatFlag(ct.CDNLogRetention))
}

// serveCDN is the unauthenticated edge for published containers.
func (s *Server) serveCDN(w http.ResponseWriter, r *http.Request) {
	account, container, name := param(r, "account"), param(r, "container"), param(r, "*")
	ct, err := s.catalog.GetContainer(r.Context(), account, container)
	if err != nil || !ct.CDNEnabled {
		httpError(w, http.StatusNotFound)
		return
	}
	rec, err := s.liveObject(r.Context(), account, container, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "max-age="+strconv.FormatInt(ct.CDNTTL, 10))
	s.serveObject(w, r, rec)
}
