package security

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ticketKeyInfo binds the derived key to its single use.
const ticketKeyInfo = "miniapp-sso/ticket/v1"

var (
	// ErrTicketExpired is returned by Verify when the ticket's exp has passed.
	ErrTicketExpired = errors.New("ticket expired")
	// ErrTicketInvalid wraps every other verification failure.
	ErrTicketInvalid = errors.New("invalid ticket")
)

// TicketClaims are the claims carried by an SSO ticket.
type TicketClaims struct {
	jwt.RegisteredClaims
	Scopes    []string `json:"scopes"`
	AppOrigin string   `json:"appOrigin"`
}

// SignedTicket is a freshly minted ticket and the values the ledger needs.
type SignedTicket struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TicketSigner mints and verifies HS256 tickets. It is the only holder of the
// signing key and is injected into the issuer and introspector.
type TicketSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
}

// NewTicketSigner derives the HMAC key from secret with HKDF-SHA256.
// skew is the tolerance for iat values ahead of the local clock; exp is always strict.
func NewTicketSigner(secret []byte, issuer string, ttl, skew time.Duration) (*TicketSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("ticket secret is empty")
	}
	if issuer == "" || ttl <= 0 {
		return nil, errors.New("ticket issuer and ttl are required")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(ticketKeyInfo)), key); err != nil {
		return nil, err
	}
	return &TicketSigner{key: key, issuer: issuer, ttl: ttl, skew: skew, now: time.Now}, nil
}

// WithClock returns a copy of s that reads time from now.
func (s *TicketSigner) WithClock(now func() time.Time) *TicketSigner {
	cp := *s
	cp.now = now
	return &cp
}

// TTL is the lifetime of minted tickets.
func (s *TicketSigner) TTL() time.Duration { return s.ttl }

// Sign mints a ticket for userID, audience appID.
func (s *TicketSigner) Sign(userID, appID string, scopes []string, appOrigin string) (*SignedTicket, error) {
	jti, err := newJTI()
	if err != nil {
		return nil, err
	}
	iat := s.now().UTC().Truncate(time.Second)
	exp := iat.Add(s.ttl)
	if scopes == nil {
		scopes = []string{}
	}
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{appID},
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scopes:    scopes,
		AppOrigin: appOrigin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, err
	}
	return &SignedTicket{Token: token, JTI: jti, IssuedAt: iat, ExpiresAt: exp}, nil
}

// Verify checks signature (HS256 only), issuer, audience and expiry.
// Expiry yields ErrTicketExpired; everything else wraps ErrTicketInvalid.
func (s *TicketSigner) Verify(token, audience string) (*TicketClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, &TicketClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTicketExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTicketInvalid, err)
	}
	claims, ok := parsed.Claims.(*TicketClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrTicketInvalid)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or sub", ErrTicketInvalid)
	}
	if claims.IssuedAt == nil || claims.IssuedAt.After(s.now().Add(s.skew)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrTicketInvalid)
	}
	return claims, nil
}
