package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerificationTokenTTL is the fixed validity window of a verification token,
// measured from the moment the grant is issued.
const VerificationTokenTTL = 24 * time.Hour

// Purpose enumerates what a verification token authorises.
type Purpose string

const (
	PurposeActivation          Purpose = "activation"
	PurposePasswordReset       Purpose = "password_reset"
	PurposeGeneralVerification Purpose = "general_verification"
)

// Codec errors. Decode failures outside this set indicate a bug in the caller.
var (
	ErrClaimsMalformed   = errors.New("claims: malformed token")
	ErrSignatureMismatch = errors.New("claims: signature mismatch")
	ErrIssuerMismatch    = errors.New("claims: issuer mismatch")
	ErrClaimsExpired     = errors.New("claims: expired")
)

// VerificationClaims is the signed payload of a verification token. The
// fragment claim carries the issued token fragment so that the verifier can
// rebuild the signing key; it is confirmed by the signature check and again
// by the caller's comparison against the persisted grant.
type VerificationClaims struct {
	Fragment string  `json:"frg"`
	Purpose  Purpose `json:"pur"`
	jwt.RegisteredClaims
}

// SigningKey is the two-part HMAC key for verification tokens. The fragment
// half lives on the subject record, the secret half in the session store;
// the combined material exists only in memory, at issuance and verification.
// Compromise of either store alone does not yield a usable key.
type SigningKey struct {
	Fragment string
	Secret   string
}

func (k SigningKey) material() []byte {
	return []byte(k.Fragment + "." + k.Secret)
}

// CodecOption customises a VerificationCodec.
type CodecOption func(*VerificationCodec)

// WithCodecClock injects a custom time source.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *VerificationCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCodecTTL overrides the token lifetime.
func WithCodecTTL(ttl time.Duration) CodecOption {
	return func(c *VerificationCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// VerificationCodec encodes and decodes signed verification claims.
type VerificationCodec struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewVerificationCodec constructs a codec bound to the given token issuer.
func NewVerificationCodec(issuer string, opts ...CodecOption) (*VerificationCodec, error) {
	if issuer == "" {
		return nil, errors.New("claims: issuer must be provided")
	}

	codec := &VerificationCodec{
		issuer: issuer,
		ttl:    VerificationTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(codec)
	}
	return codec, nil
}

// Encode signs verification claims for the subject with the two-part key.
// The expiry is always now + TTL.
func (c *VerificationCodec) Encode(subject string, purpose Purpose, key SigningKey) (string, error) {
	if subject == "" {
		return "", errors.New("claims: subject is required")
	}
	if key.Fragment == "" || key.Secret == "" {
		return "", errors.New("claims: both signing key halves are required")
	}

	now := c.now()
	claims := &VerificationClaims{
		Fragment: key.Fragment,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key.material())
	if err != nil {
		return "", fmt.Errorf("claims: sign token: %w", err)
	}
	return signed, nil
}

// Decode validates a signed token using the session secret half of the key.
// The fragment half is read from the unverified payload first; any tampering
// with it changes the reconstructed key and fails the signature check.
func (c *VerificationCodec) Decode(tokenString, secret string) (*VerificationClaims, error) {
	if tokenString == "" {
		return nil, ErrClaimsMalformed
	}
	if secret == "" {
		return nil, errors.New("claims: secret must be provided")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)

	var peek VerificationClaims
	if _, _, err := parser.ParseUnverified(tokenString, &peek); err != nil {
		return nil, ErrClaimsMalformed
	}
	if peek.Fragment == "" {
		return nil, ErrClaimsMalformed
	}

	key := SigningKey{Fragment: peek.Fragment, Secret: secret}

	var claims VerificationClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return key.material(), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrClaimsExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureMismatch
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrClaimsMalformed
		default:
			return nil, fmt.Errorf("claims: parse token: %w", err)
		}
	}

	if claims.Issuer != c.issuer {
		return nil, ErrIssuerMismatch
	}

	return &claims, nil
}
