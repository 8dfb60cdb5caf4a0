package api

import (
	"crypto/subtle"
	"net/http"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Credentials are the basic auth accounts the API accepts.
type Credentials struct {
	AdminUser    string
	AdminPass    string
	OperatorUser string
	OperatorPass string
}

// Auth checks basic auth credentials against configured accounts.
// Authentication is enabled only if admin credentials are set; otherwise
// every request is treated as admin (dev-friendly).
type Auth struct {
	creds   Credentials
	enabled bool
}

func NewAuth(c Credentials) *Auth {
	return &Auth{
		creds:   c,
		enabled: c.AdminUser != "" && c.AdminPass != "",
	}
}

// Enabled returns true if authentication is configured.
func (a *Auth) Enabled() bool {
	return a != nil && a.enabled
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if secureCompare(user, a.creds.AdminUser) && secureCompare(pass, a.creds.AdminPass) {
		return RoleAdmin
	}

	if a.creds.OperatorUser != "" && a.creds.OperatorPass != "" {
		if secureCompare(user, a.creds.OperatorUser) && secureCompare(pass, a.creds.OperatorPass) {
			return RoleOperator
		}
	}

	return ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAuth returns 401 Unauthorized with WWW-Authenticate header.
func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Sentient Tree"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func (a *Auth) RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := a.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin OR operator role.
func (a *Auth) RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func (a *Auth) RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin)
}
