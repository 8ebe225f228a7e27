package device

import "testing"

// TestAuthTokenRoundtrip verifies a saved token reads back and is not
// stored in plain text.
func TestAuthTokenRoundtrip(t *testing.T) {
	store := newMemStore()
	creds := NewCredentialStore(store, "device-1")

	if err := creds.SaveAuthToken("bearer-xyz"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	token, err := creds.AuthToken()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if token != "bearer-xyz" {
		t.Errorf("got token %q, want %q", token, "bearer-xyz")
	}

	raw, ok, _ := store.Get("remote_auth_token")
	if !ok || raw == "bearer-xyz" {
		t.Error("token stored in plain text")
	}
}

// TestAuthTokenAbsent verifies a missing token reads as empty.
func TestAuthTokenAbsent(t *testing.T) {
	creds := NewCredentialStore(newMemStore(), "device-1")

	token, err := creds.AuthToken()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
}

// TestAuthTokenBoundToDevice verifies a token sealed by one device does
// not decrypt under another identity.
func TestAuthTokenBoundToDevice(t *testing.T) {
	store := newMemStore()
	if err := NewCredentialStore(store, "device-1").SaveAuthToken("bearer-xyz"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	token, err := NewCredentialStore(store, "device-2").AuthToken()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if token != "" {
		t.Errorf("foreign device decrypted the token: %q", token)
	}
}

// TestClearAuthToken verifies clearing makes the token read as absent.
func TestClearAuthToken(t *testing.T) {
	store := newMemStore()
	creds := NewCredentialStore(store, "device-1")

	creds.SaveAuthToken("bearer-xyz")
	if err := creds.ClearAuthToken(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	token, err := creds.AuthToken()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token after clear, got %q", token)
	}
}
