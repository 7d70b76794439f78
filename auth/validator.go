package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrInvalidToken is wrapped by every validation failure.
var ErrInvalidToken = errors.New("invalid token")

// ValidatorConfig configures a Validator. Exactly one of Secret and KeySet
// must be set.
type ValidatorConfig struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// KeySet holds the public keys of asymmetric signers, looked up by the
	// token's kid header.
	KeySet jwk.Set
	// ExpectedAudience is the required value for the 'aud' claim. (Optional)
	ExpectedAudience string
	// ClockSkew is the tolerance applied to exp and nbf.
	ClockSkew time.Duration
}

// Validator checks bearer tokens presented by clients.
type Validator struct {
	config ValidatorConfig
	parser *jwt.Parser
}

// NewValidator creates a Validator.
func NewValidator(config ValidatorConfig) (*Validator, error) {
	if (len(config.Secret) == 0) == (config.KeySet == nil) {
		return nil, fmt.Errorf("exactly one of Secret and KeySet is required")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithIssuedAt()}
	if config.Secret != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if config.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(config.ExpectedAudience))
	}
	if config.ClockSkew > 0 {
		opts = append(opts, jwt.WithLeeway(config.ClockSkew))
	}
	return &Validator{config: config, parser: jwt.NewParser(opts...)}, nil
}

// Validate verifies token and returns its subject.
func (v *Validator) Validate(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keyFunc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// keyFunc is used by the parser to pick the verification key.
func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if v.config.Secret != nil {
		return v.config.Secret, nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("JWT header missing 'kid' field")
	}
	key, found := v.config.KeySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key with kid '%s' not found", kid)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw public key material for kid '%s': %w", kid, err)
	}
	return raw, nil
}
