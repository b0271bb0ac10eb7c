package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"patient", RolePatient, false},
		{"Doctor", RoleDoctor, false},
		{" administrator ", RoleAdministrator, false},
		{"admin", RoleAdministrator, false},
		{"nurse", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if Role("admin").Valid() {
		t.Error("the alias is not a stored role")
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		allowed  []Role
		wantCode int
	}{
		{"patient allowed", RolePatient, []Role{RolePatient}, http.StatusOK},
		{"doctor among many", RoleDoctor, []Role{RolePatient, RoleDoctor}, http.StatusOK},
		{"administrator not implied", RoleAdministrator, []Role{RolePatient}, http.StatusForbidden},
		{"no identity", "", []Role{RolePatient}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.role != "" {
				req = req.WithContext(WithIdentity(req.Context(), uuid.New(), tt.role))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.allowed...)(okHandler)(c)
			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			expectStatus(t, err, tt.wantCode)
		})
	}
}

func TestRequireAuthenticated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, RequireAuthenticated()(okHandler)(c), http.StatusForbidden)
}
