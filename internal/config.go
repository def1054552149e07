package internal

import "time"

// Config lists the environment variables available.
// All environment variables are prefixed with WEB2WAVE_
type Config struct {
	// API_KEY specifies the key sent in the api-key header of every backend request.
	// Backend calls fail with ErrNotConfigured until a key is set.
	API_KEY string `env:"API_KEY" envDefault:""`

	// BASE_URL specifies the backend base URL.
	BASE_URL string `env:"BASE_URL" envDefault:"https://api.web2wave.com"`

	// TIMEOUT specifies the backend http client timeout.
	TIMEOUT time.Duration `env:"TIMEOUT" envDefault:"10s"`

	// DEBUG specifies whether configuration precondition failures should panic.
	DEBUG bool `env:"DEBUG" envDefault:"false"`

	// LOG_LEVEL specifies the log level used by the binaries.
	LOG_LEVEL string `env:"LOG_LEVEL" envDefault:"info"`

	// METRICS specifies listen interface for prometheus metrics.
	// i.e. http://localhost:9090/metrics
	METRICS string `env:"METRICS" envDefault:""`

	// SURFACE specifies the HTTP bridge surface config.
	SURFACE ConfigSurface `envPrefix:"SURFACE_"`
}

// ConfigSurface specifies the HTTP bridge surface configuration.
// Environment variables are prefixed with SURFACE_
// i.e. WEB2WAVE_SURFACE_LISTEN, WEB2WAVE_SURFACE_JWT_KEY, etc.
type ConfigSurface struct {
	// LISTEN specifies the listen address.
	LISTEN string `env:"LISTEN" envDefault:"127.0.0.1:8010"`

	// CORS_ORIGINS specifies valid origins for Cross Origin Resource Sharing.
	CORS_ORIGINS string `env:"CORS_ORIGINS" envDefault:"*"`

	// JWKS_URL specifies the JWKS URL to use for signature verification.
	// See https://datatracker.ietf.org/doc/html/rfc7517
	JWKS_URL string `env:"JWKS_URL" envDefault:""`

	// JWT_KEY specifies the Key to use for JWT signature verification.
	// For asymmetrics algorithms like RSA this is typically a public key in PEM format.
	// Multiple symmetric and asymmetric keys may be specified, newline delimited.
	// Token verification is disabled when neither JWT_KEY nor JWKS_URL is set.
	JWT_KEY string `env:"JWT_KEY" envDefault:""`

	// JWT_ALG specifies the Algorithm used by the signing key.
	// Supported algorithms:
	//   ES256 ES384 ES512 (ECDSA - Elliptic Curve, Asymmetric)
	//   HS256 HS384 HS512 (HMAC, Symmetric)
	//   RS256 RS384 RS512 (RSA, Asymmetric)
	//   PS256 PS384 PS512 (RSA-PSS, Asymmetric)
	JWT_ALG string `env:"JWT_ALG" envDefault:"HS256"`
}
