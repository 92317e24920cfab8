// Package api implements HTTP handlers and helpers for the tour planning service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
	Role string // admin, planner, viewer
}

// getPrincipal extracts the caller role.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - In dev mode only, falls back to the X-Role header, defaulting to admin.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Role: pr.Role}
        }
        if s.Auth.Mode != "dev" {
            return Principal{}
        }
    }
    if s.Auth != nil && s.Auth.Mode != "dev" {
        return Principal{}
    }
    role := r.Header.Get("X-Role")
    if role == "" {
        role = "admin"
    }
    return Principal{Role: strings.ToLower(role)}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may create or delete work.
func (p Principal) CanPlan() bool { return p.Role == "admin" || p.Role == "planner" }
