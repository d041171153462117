package swiftsim

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/tempurl"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

const (
	claimAccount = "account"

	tempURLKeyMeta  = "x-account-meta-temp-url-key"
	tempURLKey2Meta = "x-account-meta-temp-url-key-2"
)

var errUnauthorized = errors.New("unauthorized")

type tokensRequest struct {
	Auth struct {
		Password *struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"passwordCredentials"`
		APIKey *struct {
			Username string `json:"username"`
			APIKey   string `json:"apiKey"`
		} `json:"RAX-KSKEY:apiKeyCredentials"`
		TenantID string `json:"tenantId"`
	} `json:"auth"`
}

type tokenDoc struct {
	ID      string    `json:"id"`
	Expires string    `json:"expires"`
	Tenant  tenantDoc `json:"tenant"`
}

type tenantDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userDoc struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultRegion string `json:"RAX-AUTH:defaultRegion,omitempty"`
}

type endpointDoc struct {
	Region      string `json:"region"`
	TenantID    string `json:"tenantId"`
	PublicURL   string `json:"publicURL"`
	InternalURL string `json:"internalURL,omitempty"`
}

type serviceDoc struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Endpoints []endpointDoc `json:"endpoints"`
}

type accessDoc struct {
	Access struct {
		Token          tokenDoc     `json:"token"`
		User           userDoc      `json:"user"`
		ServiceCatalog []serviceDoc `json:"serviceCatalog"`
	} `json:"access"`
}

func (s *Server) lookupUser(req tokensRequest) (User, bool) {
	for _, u := range s.users {
		switch {
		case req.Auth.APIKey != nil:
			if u.APIKey != "" && u.Name == req.Auth.APIKey.Username &&
				subtle.ConstantTimeCompare([]byte(u.APIKey), []byte(req.Auth.APIKey.APIKey)) == 1 {
				return u, true
			}
		case req.Auth.Password != nil:
			if u.Password != "" && u.Name == req.Auth.Password.Username &&
				subtle.ConstantTimeCompare([]byte(u.Password), []byte(req.Auth.Password.Password)) == 1 {
				return u, true
			}
		}
	}
	return User{}, false
}

// handleTokens implements the identity v2.0 token request.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest)
		return
	}
	user, ok := s.lookupUser(req)
	if !ok || (req.Auth.TenantID != "" && req.Auth.TenantID != user.Account) {
		s.logger.Info("authentication rejected", "remote", r.RemoteAddr)
		httpError(w, http.StatusUnauthorized)
		return
	}

	if _, err := s.catalog.GetAccount(r.Context(), user.Account); errors.Is(err, catalog.ErrNotFound) {
		err = s.catalog.PutAccount(r.Context(), &catalog.Account{Name: user.Account, Metadata: map[string]string{}, CreatedAt: s.now().UTC()})
		if err != nil && !errors.Is(err, catalog.ErrExists) {
			s.fail(w, r, err)
			return
		}
	} else if err != nil {
		s.fail(w, r, err)
		return
	}

	expires := s.now().Add(s.tokenTTL).UTC()
	claims := map[string]interface{}{
		"sub":        user.Name,
		claimAccount: user.Account,
	}
	jwtauth.SetIssuedAt(claims, s.now())
	jwtauth.SetExpiry(claims, expires)
	_, token, err := s.auth.Encode(claims)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	region := user.DefaultRegion
	if region == "" {
		region = s.region
	}
	base := baseURL(r)

	var doc accessDoc
	doc.Access.Token = tokenDoc{
		ID:      token,
		Expires: expires.Format(time.RFC3339),
		Tenant:  tenantDoc{ID: user.Account, Name: user.Account},
	}
	doc.Access.User = userDoc{ID: user.Name, Name: user.Name, DefaultRegion: user.DefaultRegion}
	doc.Access.ServiceCatalog = []serviceDoc{
		{
			Name: "cloudFiles",
			Type: "object-store",
			Endpoints: []endpointDoc{{
				Region:      region,
				TenantID:    user.Account,
				PublicURL:   base + "/v1/" + user.Account,
				InternalURL: base + "/v1/" + user.Account,
			}},
		},
		{
			Name: "cloudFilesCDN",
			Type: "rax:object-cdn",
			Endpoints: []endpointDoc{{
				Region:    region,
				TenantID:  user.Account,
				PublicURL: base + "/cdn/v1/" + user.Account,
			}},
		},
	}

	s.logger.Info("token issued", "user", user.Name, "account", user.Account)
	render.JSON(w, r, doc)
}

// authenticate admits requests carrying a valid X-Auth-Token for the account
// in the path, or a valid temp URL signature for object GET, HEAD and PUT.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := param(r, "account")

		if token := r.Header.Get("X-Auth-Token"); token != "" {
			if err := s.verifyToken(token, account); err != nil {
				httpError(w, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Query().Get(tempurl.ParamSignature) != "" {
			if err := s.verifyTempURL(r.Context(), r, account); err != nil {
				s.logger.Debug("temp url rejected", "path", r.URL.Path, "error", err)
				httpError(w, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		httpError(w, http.StatusUnauthorized)
	})
}

// verifyToken checks the signature with jwtauth and expiry against the
// server clock, which tests may move.
func (s *Server) verifyToken(raw, account string) error {
	token, err := s.auth.Decode(raw)
	if err != nil || token == nil {
		return errUnauthorized
	}
	if exp := token.Expiration(); !exp.IsZero() && !s.now().Before(exp) {
		return jwtauth.ErrExpired
	}
	claim, ok := token.Get(claimAccount)
	if !ok {
		return errUnauthorized
	}
	if acct, _ := claim.(string); acct != account {
		return errUnauthorized
	}
	return nil
}

func (s *Server) verifyTempURL(ctx context.Context, r *http.Request, account string) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut:
	default:
		return errUnauthorized
	}
	// temp URLs address objects only: /v1/<account>/<container>/<object>
	if strings.Count(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/") < 3 {
		return errUnauthorized
	}

	acct, err := s.catalog.GetAccount(ctx, account)
	if err != nil {
		return err
	}
	var lastErr error = tempurl.ErrNoKey
	for _, meta := range []string{tempURLKeyMeta, tempURLKey2Meta} {
		key := acct.Metadata[meta]
		if key == "" {
			continue
		}
		signer := tempurl.New(tempurl.WithKey(key), tempurl.WithClock(s.now))
		if lastErr = signer.ValidateRequest(r); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
