package store

import (
	"testing"
	"time"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func TestJWTSessionRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore(testJWTSecret, time.Hour, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil || token == "" {
		t.Fatalf("new session: token=%q err=%v", token, err)
	}
	id, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || id != "user-1" {
		t.Fatalf("lookup: id=%q ok=%v err=%v", id, ok, err)
	}
}

func TestJWTSessionRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("too-short", time.Hour, JWTOptions{}); err == nil {
		t.Fatalf("short secret accepted")
	}
}

func TestJWTSessionRejectsForeignToken(t *testing.T) {
	issuer, err := NewJWTSessionStore(testJWTSecret, time.Hour, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	verifier, err := NewJWTSessionStore("ffffffffffffffffffffffffffffffff", time.Hour, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.GetUserIDByToken(token); ok {
		t.Fatalf("token signed with a different secret accepted")
	}
	if _, ok, _ := issuer.GetUserIDByToken("not-a-jwt"); ok {
		t.Fatalf("garbage token accepted")
	}
}

func TestJWTSessionExpiry(t *testing.T) {
	s, err := NewJWTSessionStore(testJWTSecret, -time.Hour, JWTOptions{Leeway: time.Millisecond})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expired token accepted")
	}
}
