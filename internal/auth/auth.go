package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rodrigopitanga/patchvec/internal/config"
)

// Context is the identity attached to a request: the tenant the caller may
// act on (empty for admin-only identities) and the admin flag.
type Context struct {
	Tenant  string
	IsAdmin bool
}

// Authentication failures, mapped to the error taxonomy at the handler
// boundary.
var (
	ErrInvalid       = errors.New("missing or invalid authorization header")
	ErrForbidden     = errors.New("forbidden")
	ErrMisconfigured = errors.New("unknown auth mode")
)

// Authenticator resolves request credentials under the configured policy.
type Authenticator struct {
	cfg config.AuthConfig
}

// New builds an Authenticator.
func New(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Authenticate maps the request to an identity. Mode "none" grants admin
// (single-tenant deployments stay simple); mode "static" resolves Bearer
// tokens against the global key and per-tenant API keys.
func (a *Authenticator) Authenticate(r *http.Request) (Context, error) {
	mode := strings.ToLower(strings.TrimSpace(a.cfg.Mode))
	if mode == "" {
		mode = "none"
	}

	switch mode {
	case "none":
		return Context{Tenant: a.cfg.DefaultAccessTenant, IsAdmin: true}, nil

	case "static":
		token := bearerToken(r)
		if token == "" {
			return Context{}, ErrInvalid
		}
		if a.cfg.GlobalKey != "" && token == a.cfg.GlobalKey {
			return Context{Tenant: a.cfg.DefaultAccessTenant, IsAdmin: true}, nil
		}
		for tenant, expected := range a.cfg.APIKeys {
			if token == expected {
				return Context{Tenant: tenant, IsAdmin: false}, nil
			}
		}
		return Context{}, ErrForbidden
	}
	return Context{}, ErrMisconfigured
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthorizedForTenant reports whether the identity may act on the URL's
// tenant.
func (c Context) AuthorizedForTenant(tenant string) bool {
	return c.IsAdmin || c.Tenant == tenant
}

type contextKey struct{}

// WithContext attaches the identity to the request context.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext retrieves the identity; the zero value means the auth
// middleware never ran.
func FromContext(ctx context.Context) Context {
	if ac, ok := ctx.Value(contextKey{}).(Context); ok {
		return ac
	}
	return Context{}
}
