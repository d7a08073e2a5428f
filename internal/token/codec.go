// Package token mints and verifies the signed, expiring invitation tokens
// used for double opt-in subscribe and unsubscribe confirmations.
//
// Tokens are stateless HS256 JWTs. Nothing is stored: validity is purely a
// function of the signature and the embedded timestamps, so a token can be
// presented any number of times inside its validity window. Callers make
// repeat acceptance safe by checking membership state.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ignite/listserv/internal/domain"
)

// Kind is the single purpose a token is minted for.
type Kind string

const (
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
)

const issuer = "listserv"

// Claims is the JWT payload. The list address is carried as the audience and
// the member address as the subject.
type Claims struct {
	Kind Kind `json:"act"`
	jwt.RegisteredClaims
}

// Grant is the verified content of a token.
type Grant struct {
	ID          string
	ListAddress string
	Member      string
	Kind        Kind
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Codec issues and verifies tokens with a process-wide secret key.
// It is safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec. The secret must not be empty.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret key is required")
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// WithClock returns a copy of the codec reading time from now. Used by tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

// Issue mints a token binding listAddress, member and kind, valid for ttl
// from now. A zero ttl yields a token that is already expired.
func (c *Codec) Issue(listAddress, member string, kind Kind, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   domain.NormalizeAddress(member),
			Audience:  jwt.ClaimStrings{domain.NormalizeAddress(listAddress)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, the purpose and the expiry of raw.
//
// It fails with domain.ErrInvalidSignature when the signature or payload is
// wrong or the token was minted for another kind, and with
// domain.ErrExpiredSignature once the current time reaches the expiry.
func (c *Codec) Verify(raw string, kind Kind) (*Grant, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", domain.ErrInvalidSignature, claims.Issuer)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: token is for %q, not %q", domain.ErrInvalidSignature, claims.Kind, kind)
	}
	if claims.Subject == "" || len(claims.Audience) != 1 || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: incomplete claims", domain.ErrInvalidSignature)
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired at %s", domain.ErrExpiredSignature, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return &Grant{
		ID:          claims.ID,
		ListAddress: claims.Audience[0],
		Member:      claims.Subject,
		Kind:        claims.Kind,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
