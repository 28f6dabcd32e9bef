package urlblock

import (
	"reflect"
	"testing"
)

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://WWW.Example.com/path?x=1", "example.com"},
		{"example.com:8443", "example.com"},
		{"http://sub.example.org", "sub.example.org"},
		{"  Example.COM  ", "example.com"},
		{"https://user@evil.example.net:443/login", "evil.example.net"},
		{"www.example.com#frag", "example.com"},
		{"localhost", ""},
		{"", ""},
		{"-bad.com", ""},
		{"bad.com-", ""},
		{"exa_mple.com", ""},
		{"https://", ""},
		{"ftp://files.example.com", ""},
		{"file:///etc/hosts", ""},
		{"wss://chat.example.com/socket", "chat.example.com"},
		{"HTTPS://Example.com", "example.com"},
		{"https://[::1]:8443/", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.in); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	t.Parallel()

	valid := []string{"example.com", "a-b.example.co.uk", "xn--bcher-kva.example"}
	invalid := []string{"localhost", ".example.com", "example.com.", "exa mple.com", "ex*ample.com"}

	for _, d := range valid {
		if !IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = false, want true", d)
		}
	}
	for _, d := range invalid {
		if IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = true, want false", d)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	domains, rejected := Normalize([]string{
		"https://b.example.com/x",
		"a.example.com",
		"www.b.example.com",
		"localhost",
	})

	if want := []string{"a.example.com", "b.example.com"}; !reflect.DeepEqual(domains, want) {
		t.Errorf("domains = %v, want %v", domains, want)
	}
	if want := []string{"localhost"}; !reflect.DeepEqual(rejected, want) {
		t.Errorf("rejected = %v, want %v", rejected, want)
	}
}
