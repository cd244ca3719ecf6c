package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPIgnoresForwardedFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4411"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")

	if got := ClientIP(r, nil); got != "203.0.113.9" {
		t.Fatalf("client ip = %q, want direct peer", got)
	}
}

func TestClientIPWalksForwardedChainThroughTrustedProxies(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.3")

	if got := ClientIP(r, trusted); got != "198.51.100.7" {
		t.Fatalf("client ip = %q, want first untrusted hop", got)
	}
}

func TestClientIPUsesRealIPFromTrustedProxy(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.2"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Real-IP", "198.51.100.7")

	if got := ClientIP(r, trusted); got != "198.51.100.7" {
		t.Fatalf("client ip = %q", got)
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
