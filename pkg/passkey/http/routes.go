// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountChi mounts the ceremony routes on a chi router.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(coordinator, users)
//	r.Route("/api", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/generate-registration-options", h.GenerateRegistrationOptions)
	r.Post("/verify-registration", h.VerifyRegistration)
	r.Post("/generate-authentication-options", h.GenerateAuthenticationOptions)
	r.Post("/verify-authentication", h.VerifyAuthentication)
	r.Get("/users", h.ListUsers)
}

// MountStdlib mounts the ceremony routes on a stdlib http.ServeMux.
// The prefix should not include a trailing slash.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(coordinator, users)
//	passkeyhttp.MountStdlib(mux, "/api", handler)
func MountStdlib(mux *http.ServeMux, prefix string, h *Handler) {
	mux.HandleFunc("POST "+prefix+"/generate-registration-options", h.GenerateRegistrationOptions)
	mux.HandleFunc("POST "+prefix+"/verify-registration", h.VerifyRegistration)
	mux.HandleFunc("POST "+prefix+"/generate-authentication-options", h.GenerateAuthenticationOptions)
	mux.HandleFunc("POST "+prefix+"/verify-authentication", h.VerifyAuthentication)
	mux.HandleFunc("GET "+prefix+"/users", h.ListUsers)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns a slice of route entries for manual mounting.
// Useful for frameworks not directly supported.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: "POST", Path: "/generate-registration-options", Handler: h.GenerateRegistrationOptions},
		{Method: "POST", Path: "/verify-registration", Handler: h.VerifyRegistration},
		{Method: "POST", Path: "/generate-authentication-options", Handler: h.GenerateAuthenticationOptions},
		{Method: "POST", Path: "/verify-authentication", Handler: h.VerifyAuthentication},
		{Method: "GET", Path: "/users", Handler: h.ListUsers},
	}
}
