package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestIssueAndVerify(t *testing.T) {
	actor := Actor{ID: "usr_a", Name: "Ada"}
	token, err := IssueToken(secret, actor, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := NewVerifier(secret)
	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != actor {
		t.Fatalf("actor = %+v, want %+v", got, actor)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	token, err := IssueToken(secret, Actor{ID: "usr_a", Name: "Ada"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	verifier := NewVerifier(secret)
	if _, err := verifier.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("other-secret"), Actor{ID: "usr_a", Name: "Ada"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := NewVerifier(secret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := IssueToken(secret, Actor{ID: "usr_a", Name: "Ada"}, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := NewVerifier(secret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyFallsBackToSubjectForName(t *testing.T) {
	token, err := IssueToken(secret, Actor{ID: "usr_a"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := NewVerifier(secret)
	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Name != "usr_a" {
		t.Fatalf("name = %q, want subject fallback", got.Name)
	}
}
