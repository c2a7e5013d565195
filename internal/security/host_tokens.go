package security

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a host access token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// HostClaims are the claims of a host platform access token.
type HostClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// TokenProvider validates host access tokens (RS256 or ES256). The host's login
// system mints them; the signing half exists for tests and local tooling.
type TokenProvider struct {
	privateKey crypto.Signer // nil in verify-only mode
	publicKey  crypto.PublicKey
	alg        string
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewTokenProvider returns a verify-only provider for the given public key.
// The accepted algorithm is pinned by key type.
func NewTokenProvider(publicKey crypto.PublicKey, issuer, audience string) (*TokenProvider, error) {
	alg := KeyAlg(publicKey)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{publicKey: publicKey, alg: alg, issuer: issuer, audience: audience}, nil
}

// WithSigner returns a copy of p that can also issue access tokens with privateKey.
func (p *TokenProvider) WithSigner(privateKey crypto.Signer, accessTTL time.Duration) (*TokenProvider, error) {
	if KeyAlg(privateKey.Public()) != p.alg {
		return nil, ErrInvalidKey
	}
	cp := *p
	cp.privateKey = privateKey
	cp.accessTTL = accessTTL
	return &cp, nil
}

// IssueAccess issues a host access token for userID bound to the host sessionID.
func (p *TokenProvider) IssueAccess(userID, sessionID string) (token string, expiresAt time.Time, err error) {
	if p.privateKey == nil {
		return "", time.Time{}, errors.New("token provider has no signing key")
	}
	jti, err := newJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := HostClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(p.alg), claims)
	token, err = t.SignedString(p.privateKey)
	return token, expiresAt, err
}

// ValidateAccess parses and validates a host access token (signature, exp, iss, aud).
// Returns userID and host sessionID.
func (p *TokenProvider) ValidateAccess(tokenString string) (userID, sessionID string, err error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{p.alg}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, &HostClaims{}, func(*jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionID, nil
}
