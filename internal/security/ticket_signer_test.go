package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTicketSigner_SignAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewTestTicketSigner().WithClock(fixedClock(now))

	st, err := s.Sign("u1", "app-1", []string{"profile"}, "https://mini.example")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if st.Token == "" || st.JTI == "" {
		t.Fatal("token or jti empty")
	}
	if got := st.ExpiresAt.Sub(st.IssuedAt); got != 60*time.Second {
		t.Errorf("exp - iat = %v, want 60s", got)
	}

	claims, err := s.Verify(st.Token, "app-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.ID != st.JTI || claims.AppOrigin != "https://mini.example" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "profile" {
		t.Errorf("scopes = %v", claims.Scopes)
	}
	if claims.Issuer != "test-sso" {
		t.Errorf("iss = %q", claims.Issuer)
	}
}

func TestTicketSigner_UniqueJTI(t *testing.T) {
	s := NewTestTicketSigner()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		st, err := s.Sign("u1", "app-1", nil, "https://mini.example")
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if seen[st.JTI] {
			t.Fatalf("duplicate jti %q", st.JTI)
		}
		seen[st.JTI] = true
	}
}

func TestTicketSigner_Expired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewTestTicketSigner().WithClock(fixedClock(issued))
	st, err := s.Sign("u1", "app-1", nil, "https://mini.example")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for _, after := range []time.Duration{60 * time.Second, 61 * time.Second, time.Hour} {
		late := s.WithClock(fixedClock(issued.Add(after)))
		if _, err := late.Verify(st.Token, "app-1"); !errors.Is(err, ErrTicketExpired) {
			t.Errorf("Verify %v after issue: err = %v, want ErrTicketExpired", after, err)
		}
	}

	justBefore := s.WithClock(fixedClock(issued.Add(59 * time.Second)))
	if _, err := justBefore.Verify(st.Token, "app-1"); err != nil {
		t.Errorf("Verify at 59s: %v", err)
	}
}

func TestTicketSigner_WrongAudience(t *testing.T) {
	s := NewTestTicketSigner()
	st, _ := s.Sign("u1", "app-1", nil, "https://mini.example")
	_, err := s.Verify(st.Token, "app-2")
	if !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketSigner_WrongIssuer(t *testing.T) {
	a := NewTestTicketSigner()
	b, err := NewTicketSigner([]byte("test-ticket-secret-0123456789abcdef"), "someone-else", time.Minute, 0)
	if err != nil {
		t.Fatalf("NewTicketSigner: %v", err)
	}
	st, _ := b.Sign("u1", "app-1", nil, "https://mini.example")
	if _, err := a.Verify(st.Token, "app-1"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketSigner_WrongKey(t *testing.T) {
	a := NewTestTicketSigner()
	b, _ := NewTicketSigner([]byte("another-secret-0123456789abcdef!!"), "test-sso", time.Minute, 0)
	st, _ := b.Sign("u1", "app-1", nil, "https://mini.example")
	if _, err := a.Verify(st.Token, "app-1"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketSigner_ExpiredForgeryIsInvalidNotExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	forger, _ := NewTicketSigner([]byte("another-secret-0123456789abcdef!!"), "test-sso", time.Minute, 0)
	st, _ := forger.WithClock(fixedClock(issued)).Sign("u1", "app-1", nil, "")

	s := NewTestTicketSigner().WithClock(fixedClock(issued.Add(time.Hour)))
	_, err := s.Verify(st.Token, "app-1")
	if errors.Is(err, ErrTicketExpired) || !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketSigner_RejectsOtherAlgorithms(t *testing.T) {
	s := NewTestTicketSigner()
	claims := TicketClaims{RegisteredClaims: jwt.RegisteredClaims{
		ID: "jti-1", Subject: "u1", Issuer: "test-sso", Audience: jwt.ClaimStrings{"app-1"},
		IssuedAt: jwt.NewNumericDate(time.Now()), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Verify(none, "app-1"); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("alg=none: err = %v, want ErrTicketInvalid", err)
	}

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.key)
	if _, err := s.Verify(hs512, "app-1"); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("alg=HS512: err = %v, want ErrTicketInvalid", err)
	}

	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	es256, _ := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(ecKey)
	if _, err := s.Verify(es256, "app-1"); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("alg=ES256: err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketSigner_IssuedAtSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := NewTestTicketSigner().WithClock(fixedClock(now))

	slightlyAhead := verifier.WithClock(fixedClock(now.Add(4 * time.Second)))
	st, _ := slightlyAhead.Sign("u1", "app-1", nil, "")
	if _, err := verifier.Verify(st.Token, "app-1"); err != nil {
		t.Errorf("iat 4s ahead should be tolerated: %v", err)
	}

	farAhead := verifier.WithClock(fixedClock(now.Add(30 * time.Second)))
	st, _ = farAhead.Sign("u1", "app-1", nil, "")
	_, err := verifier.Verify(st.Token, "app-1")
	if !errors.Is(err, ErrTicketInvalid) || !strings.Contains(err.Error(), "future") {
		t.Errorf("iat 30s ahead: err = %v, want issued-in-the-future rejection", err)
	}
}

func TestTicketSigner_Garbage(t *testing.T) {
	s := NewTestTicketSigner()
	for _, tok := range []string{"", "abc", "a.b.c", strings.Repeat("x", 500)} {
		if _, err := s.Verify(tok, "app-1"); !errors.Is(err, ErrTicketInvalid) {
			t.Errorf("Verify(%q): err = %v, want ErrTicketInvalid", tok, err)
		}
	}
}

func TestNewTicketSigner_Validation(t *testing.T) {
	if _, err := NewTicketSigner(nil, "iss", time.Minute, 0); err == nil {
		t.Error("empty secret should fail")
	}
	if _, err := NewTicketSigner([]byte("secret"), "", time.Minute, 0); err == nil {
		t.Error("empty issuer should fail")
	}
	if _, err := NewTicketSigner([]byte("secret"), "iss", 0, 0); err == nil {
		t.Error("zero ttl should fail")
	}
}
