package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loglane/loglane/pkg/logger"
	"github.com/loglane/loglane/pkg/metrics"
)

// Request-shape constants for sensitive endpoints carrying a verification token.
const (
	RequestedWithHeader = "X-Requested-With"
	RequestedWithValue  = "XMLHttpRequest"

	AuthorizationHeader       = "Authorization"
	AuthorizationHeaderPrefix = "Bearer "

	// SessionParam is the route parameter carrying the session identifier,
	// e.g. /api/user/activate/:session.
	SessionParam = "session"
)

// Verification outcomes. Unknown deliberately covers secret misses, store
// I/O errors and non-expiry decode failures alike, so a caller probing the
// endpoint cannot tell which check failed.
var (
	ErrTokenMissing = errors.New("verification: credential missing")
	ErrTokenInvalid = errors.New("verification: credential invalid")
	ErrTokenExpired = errors.New("verification: token expired")
	ErrTokenUnknown = errors.New("verification: token unknown")
)

// VerifiedToken is the opaque result of a successful verification. The
// caller must still match Fragment against the grant persisted on the
// subject record before performing the sensitive action.
type VerifiedToken struct {
	Subject  string
	Fragment string
	Purpose  Purpose
}

// TokenVerifier validates verification tokens presented on inbound requests.
type TokenVerifier struct {
	codec   *VerificationCodec
	secrets SecretStore
	log     *zap.Logger
}

// NewTokenVerifier wires the codec and session secret store together.
func NewTokenVerifier(codec *VerificationCodec, secrets SecretStore) (*TokenVerifier, error) {
	if codec == nil {
		return nil, errors.New("verifier: codec is required")
	}
	if secrets == nil {
		return nil, errors.New("verifier: secret store is required")
	}
	return &TokenVerifier{
		codec:   codec,
		secrets: secrets,
		log:     logger.WithModule("verifier"),
	}, nil
}

// VerifyRequest runs the ordered request checks. The first failing check
// decides the outcome; there is no partial success and no retry.
func (v *TokenVerifier) VerifyRequest(c *gin.Context) (*VerifiedToken, error) {
	if c.GetHeader(RequestedWithHeader) != RequestedWithValue {
		return nil, v.reject(ErrTokenInvalid, "requested-with check failed")
	}

	headers := c.Request.Header.Values(AuthorizationHeader)
	switch len(headers) {
	case 1:
		// fall through to credential parsing
	case 0:
		return nil, v.reject(ErrTokenMissing, "authorization header missing")
	default:
		return nil, v.reject(ErrTokenInvalid, "multiple authorization headers")
	}

	header := headers[0]
	if !strings.HasPrefix(header, AuthorizationHeaderPrefix) {
		return nil, v.reject(ErrTokenInvalid, "authorization prefix mismatch")
	}

	credential := header[len(AuthorizationHeaderPrefix):]
	if !strings.Contains(credential, ".") {
		return nil, v.reject(ErrTokenInvalid, "credential shape check failed")
	}

	sessionID := c.Param(SessionParam)
	if sessionID == "" {
		return nil, v.reject(ErrTokenInvalid, "session identifier missing")
	}

	secret, err := v.secrets.Get(c.Request.Context(), sessionID)
	if err != nil {
		v.log.Error("session secret lookup failed", zap.Error(err))
		return nil, v.reject(ErrTokenUnknown, "")
	}

	claims, err := v.codec.Decode(credential, secret)
	if err != nil {
		if errors.Is(err, ErrClaimsExpired) {
			return nil, v.reject(ErrTokenExpired, "")
		}
		v.log.Error("token decode failed", zap.Error(err))
		return nil, v.reject(ErrTokenUnknown, "")
	}

	metrics.TokenVerifications.WithLabelValues("verified").Inc()
	return &VerifiedToken{
		Subject:  claims.Subject,
		Fragment: claims.Fragment,
		Purpose:  claims.Purpose,
	}, nil
}

func (v *TokenVerifier) reject(outcome error, reason string) error {
	switch {
	case errors.Is(outcome, ErrTokenMissing):
		metrics.TokenVerifications.WithLabelValues("missing").Inc()
	case errors.Is(outcome, ErrTokenInvalid):
		metrics.TokenVerifications.WithLabelValues("invalid").Inc()
	case errors.Is(outcome, ErrTokenExpired):
		metrics.TokenVerifications.WithLabelValues("expired").Inc()
	default:
		metrics.TokenVerifications.WithLabelValues("unknown").Inc()
	}

	if reason != "" {
		v.log.Warn("verification rejected", zap.String("reason", reason))
	}
	return outcome
}
