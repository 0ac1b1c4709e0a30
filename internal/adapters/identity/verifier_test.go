package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *HTTPVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPVerifier(srv.URL)
}

func TestVerifyResolvesIdentity(t *testing.T) {
	v := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Credential string `json:"credential"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Credential != "cred-1" {
			t.Errorf("unexpected credential %q", req.Credential)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"userId":       "user-1",
			"role":         "admin",
			"ownedDevices": []string{"dev1", "dev2"},
		})
	})

	id, err := v.Verify(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if id.UserID != "user-1" || id.Role != "admin" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if len(id.OwnedDeviceIDs) != 2 || id.OwnedDeviceIDs[0] != "dev1" {
		t.Fatalf("unexpected owned devices: %v", id.OwnedDeviceIDs)
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	v := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"userId": "user-1"})
	})

	id, err := v.Verify(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if id.Role != "user" {
		t.Fatalf("expected default role user, got %q", id.Role)
	}
}

func TestVerifyRejectsProviderError(t *testing.T) {
	v := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	if _, err := v.Verify(context.Background(), "cred-1"); err == nil {
		t.Fatal("expected error on non-200 provider response")
	}
}

func TestVerifyRejectsEmptyUserID(t *testing.T) {
	v := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"userId": ""})
	})

	if _, err := v.Verify(context.Background(), "cred-1"); err == nil {
		t.Fatal("expected error on empty user id")
	}
}
