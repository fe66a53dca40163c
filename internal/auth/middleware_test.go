// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(t *testing.T, wantSubject string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.Subject != wantSubject {
			t.Errorf("claims in context = %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	token, err := m.GenerateToken("ops", RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	handler := NewMiddleware(m).Authenticate(okHandler(t, "ops"))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid bearer", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic b3BzOnBhc3M=", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"tampered token", "Bearer " + token + "x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate challenge")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	mw := NewMiddleware(m)

	admin, _ := m.GenerateToken("root", RoleAdmin)
	viewer, _ := m.GenerateToken("guest", "viewer")
	operator, _ := m.GenerateToken("dj", "operator")

	tests := []struct {
		name    string
		token   string
		subject string
		want    int
	}{
		{"admin passes", admin, "root", http.StatusNoContent},
		{"matching role", operator, "dj", http.StatusNoContent},
		{"other role", viewer, "guest", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw.RequireRole("operator")(okHandler(t, tt.subject))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/players/1/stop", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
