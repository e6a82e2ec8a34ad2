package auth

import (
	"context"
	"errors"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	p := Principal{UserID: "u1", Role: RoleProvider}
	tok, err := NewToken(p, "secret")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseToken(tok, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	tok, err := NewToken(Principal{UserID: "u1", Role: RoleConsumer}, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := ParseToken("not-a-token", "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	p := Principal{UserID: "u1", Role: RoleConsumer}
	ctx := WithPrincipal(context.Background(), p)
	got, ok := FromContext(ctx)
	if !ok || got != p {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a principal")
	}
}
