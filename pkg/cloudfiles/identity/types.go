package identity

import (
	"errors"
	"strings"
	"time"
)

// Well known names in the Rackspace service catalog
const (
	DefaultEndpoint      = "https://identity.api.rackspacecloud.com/v2.0"
	ServiceCloudFiles    = "cloudFiles"
	ServiceCloudFilesCDN = "cloudFilesCDN"
)

var (
	// ErrInvalidCredentials is returned when the identity service rejects the credentials
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrUnknownService is returned when the catalog has no service of that name
	ErrUnknownService = errors.New("identity: unknown service")

	// ErrUnknownRegion is returned when a service has no endpoint in the region
	ErrUnknownRegion = errors.New("identity: unknown region")

	// ErrNoCredentials is returned when neither an API key nor a password is configured
	ErrNoCredentials = errors.New("identity: no credentials configured")
)

// Token is an auth token and its expiry.
type Token struct {
	ID      string    `json:"id"`
	Expires time.Time `json:"expires"`
	Tenant  *Tenant   `json:"tenant,omitempty"`
}

// Expired reports whether the token is unusable at now.
func (t Token) Expired(now time.Time) bool {
	return t.ID == "" || !now.Before(t.Expires)
}

// Tenant identifies the account a token is scoped to.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the authenticated user.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultRegion string `json:"RAX-AUTH:defaultRegion,omitempty"`
}

// Endpoint is one regional entry point of a service.
type Endpoint struct {
	Region      string `json:"region,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
	PublicURL   string `json:"publicURL"`
	InternalURL string `json:"internalURL,omitempty"`
}

// URL returns the internal URL when asked for and present, else the public one.
func (e Endpoint) URL(internal bool) string {
	if internal && e.InternalURL != "" {
		return e.InternalURL
	}
	return e.PublicURL
}

// Service is a named catalog entry.
type Service struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Access is the result of a successful authentication.
type Access struct {
	Token          Token     `json:"token"`
	User           User      `json:"user"`
	ServiceCatalog []Service `json:"serviceCatalog"`
}

// Service finds a catalog entry by name.
func (a *Access) Service(name string) (Service, error) {
	for _, s := range a.ServiceCatalog {
		if s.Name == name {
			return s, nil
		}
	}
	return Service{}, ErrUnknownService
}

// Endpoint resolves the endpoint of service in region. An empty region selects
// the user's default region, or the only endpoint when the service has one.
func (a *Access) Endpoint(service, region string) (Endpoint, error) {
	svc, err := a.Service(service)
	if err != nil {
		return Endpoint{}, err
	}
	if region == "" {
		region = a.User.DefaultRegion
	}
	if region == "" && len(svc.Endpoints) == 1 {
		return svc.Endpoints[0], nil
	}
	for _, ep := range svc.Endpoints {
		if strings.EqualFold(ep.Region, region) {
			return ep, nil
		}
	}
	return Endpoint{}, ErrUnknownRegion
}

type authRequest struct {
	Auth authBody `json:"auth"`
}

type authBody struct {
	Password *passwordCredentials `json:"passwordCredentials,omitempty"`
	APIKey   *apiKeyCredentials   `json:"RAX-KSKEY:apiKeyCredentials,omitempty"`
	TenantID string               `json:"tenantId,omitempty"`
}

type passwordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type apiKeyCredentials struct {
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
}

type authResponse struct {
	Access Access `json:"access"`
}
