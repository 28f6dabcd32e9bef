package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIntakeAuth_Verify(t *testing.T) {
	t.Parallel()

	auth := testIntakeAuth(t)

	if auth.Verify("") {
		t.Error("empty token verified")
	}
	if auth.Verify("wrong") {
		t.Error("wrong token verified")
	}
	for i := 0; i < 3; i++ {
		if !auth.Verify(testToken) {
			t.Fatalf("attempt %d: valid token rejected", i)
		}
	}
	if n := len(auth.verified); n != 1 {
		t.Errorf("remembered %d digests, want 1", n)
	}

	var nilAuth *IntakeAuth
	if nilAuth.Verify(testToken) {
		t.Error("nil verifier accepted a token")
	}
}

func TestNewIntakeAuth_RejectsBadHash(t *testing.T) {
	t.Parallel()

	for _, hash := range []string{"", "sha256:abcd", "$argon2id$garbage"} {
		if _, err := NewIntakeAuth(hash); err == nil {
			t.Errorf("NewIntakeAuth(%q) = nil error", hash)
		}
	}
}

func TestHashIntakeToken(t *testing.T) {
	t.Parallel()

	token, err := GenerateIntakeToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(token) < 40 {
		t.Errorf("token %q is too short", token)
	}
	other, _ := GenerateIntakeToken()
	if token == other {
		t.Error("two generated tokens are equal")
	}

	hash, err := HashIntakeToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash = %q, want PHC argon2id", hash)
	}
	auth, err := NewIntakeAuth(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !auth.Verify(token) || auth.Verify(other) {
		t.Error("hash does not verify exactly its own token")
	}
}

func TestIntakeToken_Sources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"bearer", "Authorization", "Bearer abc", "abc"},
		{"custom header", IntakeTokenHeader, " abc ", "abc"},
		{"other scheme", "Authorization", "Basic abc", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/access/prompts", nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		if got := intakeToken(req); got != tt.want {
			t.Errorf("%s: intakeToken() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
