package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	// QueryTokenPaths accept the token as ?token= for clients that cannot set headers.
	QueryTokenPaths map[string]struct{}
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{
		ExemptPaths:    set,
		ExemptPrefixes: exemptPrefixes,
		QueryTokenPaths: map[string]struct{}{
			"/api/stream": {},
			"/ws":         {},
		},
	}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// AllowsQueryToken reports whether the token may travel in the query string.
func (p Policy) AllowsQueryToken(r *http.Request) bool {
	if r == nil {
		return false
	}
	_, ok := p.QueryTokenPaths[r.URL.Path]
	return ok
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/api/configuracion":
		return RoleAdmin, true
	case path == "/api/nodos/reemplazar":
		return RoleAdmin, true
	case path == "/api/logs/accesos", path == "/api/logs/auditoria":
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/logs/"):
		return RoleTecnico, true
	case path == "/api/nodos" || strings.HasPrefix(path, "/api/nodos/"):
		if method == http.MethodGet {
			return RoleTecnico, true
		}
		return RoleSupervisor, true
	case (path == "/api/sensores" || path == "/api/sensores/crear") && method == http.MethodPost:
		return RoleSupervisor, true
	case strings.HasPrefix(path, "/api/sensor/config/"):
		return RoleSupervisor, true
	case path == "/api/stream", path == "/ws":
		return RoleTecnico, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleTecnico, true
		}
		return RoleSupervisor, true
	}
	return "", false
}
