package app

import (
	"github.com/loglane/loglane/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret: c.JWT.Secret,
		Issuer: c.JWT.Issuer,
		TTL:    ttl,
	}
}

// VerificationCodecOptions converts the verification settings into codec options.
func (c AuthConfig) VerificationCodecOptions() []auth.CodecOption {
	var opts []auth.CodecOption
	if c.Verification.TTL > 0 {
		opts = append(opts, auth.WithCodecTTL(c.Verification.TTL))
	}
	return opts
}

// VerificationIssuer returns the issuer embedded in verification credentials,
// falling back to the access token issuer.
func (c AuthConfig) VerificationIssuer() string {
	if c.Verification.Issuer != "" {
		return c.Verification.Issuer
	}
	return c.JWT.Issuer
}
