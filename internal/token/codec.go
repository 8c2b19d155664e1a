package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

// Claims is the capability token payload. RegisteredClaims carries iat/exp;
// the rest asserts the entitlement the device holds.
type Claims struct {
	LicenseID      string         `json:"license_id"`
	OrganizationID string         `json:"org_id"`
	DeviceID       string         `json:"device_id"`
	Plan           domain.Plan    `json:"plan"`
	AppType        domain.AppType `json:"app"`
	Features       []string       `json:"features"`
	jwt.RegisteredClaims
}

// IssueInput captures everything the codec needs to mint a token.
// NotAfter is the owning license's validUntil; the token expiry is clamped
// to it so a token never outlives its license.
type IssueInput struct {
	LicenseID      string
	OrganizationID string
	DeviceID       string
	Plan           domain.Plan
	AppType        domain.AppType
	Features       []string
	NotAfter       time.Time
}

// Codec signs and verifies capability tokens. It is stateless; all methods
// are safe for concurrent use.
type Codec struct {
	keys *KeyProvider
	ttl  time.Duration
}

// NewCodec creates a codec bound to a key provider and the configured
// token lifetime.
func NewCodec(keys *KeyProvider, ttl time.Duration) *Codec {
	return &Codec{keys: keys, ttl: ttl}
}

// TTL returns the standard token lifetime
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue serializes and signs the claims. The expiry is now+TTL, clamped to
// input.NotAfter when the license window ends sooner.
func (c *Codec) Issue(input IssueInput, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(c.ttl)
	if !input.NotAfter.IsZero() && input.NotAfter.Before(expiresAt) {
		expiresAt = input.NotAfter
	}

	claims := &Claims{
		LicenseID:      input.LicenseID,
		OrganizationID: input.OrganizationID,
		DeviceID:       input.DeviceID,
		Plan:           input.Plan,
		AppType:        input.AppType,
		Features:       input.Features,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.keys.PrivateKey())
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks the signature against the public key and the expiry against
// now. It consults no registry; callers must still re-check device and
// license status. A token whose expiry equals now is already expired.
//
// The error is ErrTokenExpired for a structurally sound but stale token and
// ErrTokenInvalid for anything else (bad signature, malformed, wrong
// algorithm), so callers can choose the right message.
func (c *Codec) Verify(signed string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, apierrors.ErrTokenInvalid
		}
		return c.keys.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierrors.ErrTokenExpired
		}
		return nil, apierrors.ErrTokenInvalid
	}

	// Enforce the exp == now boundary explicitly rather than relying on the
	// library's leeway semantics.
	if exp := claims.ExpiresAt; exp != nil && !now.Before(exp.Time) {
		return nil, apierrors.ErrTokenExpired
	}

	return claims, nil
}

// Payload converts verified claims into the wire payload shape
func (c *Claims) Payload() *domain.TokenPayload {
	p := &domain.TokenPayload{
		LicenseID:      c.LicenseID,
		OrganizationID: c.OrganizationID,
		DeviceID:       c.DeviceID,
		Plan:           c.Plan,
		AppType:        c.AppType,
		Features:       c.Features,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}
