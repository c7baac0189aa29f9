// Package auth verifies session JWTs issued by the identity provider.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken     = errors.New("auth: missing authentication token")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrExpiredToken     = errors.New("auth: token has expired")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrInvalidClaims    = errors.New("auth: invalid token claims")
)

// DevUserID identifies every request when verification is disabled.
const DevUserID = "dev-user"

// Config configures session token verification. Verification is disabled
// when neither a public key nor a secret is configured.
type Config struct {
	// PublicKey is a PEM-encoded RSA key (RS256). PublicKeyFile is read
	// when PublicKey is empty.
	PublicKey     string `json:"-" yaml:"public_key" koanf:"public_key"`
	PublicKeyFile string `json:"public_key_file" yaml:"public_key_file" koanf:"public_key_file"`

	// Secret enables HS256 verification.
	Secret string `json:"-" yaml:"secret" koanf:"secret"`

	Issuer string `json:"issuer" yaml:"issuer" koanf:"issuer"`

	// AuthorizedParties lists accepted "azp" values (the front-end origins).
	// Empty accepts any.
	AuthorizedParties []string `json:"authorized_parties" yaml:"authorized_parties" koanf:"authorized_parties"`

	Leeway time.Duration `json:"leeway" yaml:"leeway" koanf:"leeway"`
}

// Enabled reports whether tokens are verified.
func (c Config) Enabled() bool {
	return c.PublicKey != "" || c.PublicKeyFile != "" || c.Secret != ""
}

// Claims are the session token claims the service relies on.
type Claims struct {
	Email           string `json:"email,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	SessionID       string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Verifier validates session tokens.
type Verifier struct {
	publicKey *rsa.PublicKey
	secret    []byte
	method    jwt.SigningMethod
	issuer    string
	parties   []string
	leeway    time.Duration
	disabled  bool
}

// NewVerifier builds a verifier from cfg. A config with no key material
// yields a disabled verifier that accepts every request as DevUserID.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{
		issuer:  cfg.Issuer,
		parties: cfg.AuthorizedParties,
		leeway:  cfg.Leeway,
	}

	pem := cfg.PublicKey
	if pem == "" && cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading public key: %w", err)
		}
		pem = string(data)
	}

	switch {
	case pem != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		v.publicKey = key
		v.method = jwt.SigningMethodRS256
	case cfg.Secret != "":
		v.secret = []byte(cfg.Secret)
		v.method = jwt.SigningMethodHS256
	default:
		v.disabled = true
	}
	return v, nil
}

// Disabled reports whether the verifier accepts unauthenticated requests.
func (v *Verifier) Disabled() bool { return v.disabled }

// Verify validates a raw token (with or without the "Bearer " prefix) and
// returns its claims.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if v.disabled {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: DevUserID}}, nil
	}

	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if len(v.parties) > 0 && claims.AuthorizedParty != "" && !slices.Contains(v.parties, claims.AuthorizedParty) {
		return nil, fmt.Errorf("%w: unauthorized party %q", ErrInvalidClaims, claims.AuthorizedParty)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	return claims, nil
}
