package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// DefaultTTL is the lifetime of signed tokens when none is given.
const DefaultTTL = 15 * time.Minute

// Claims identify the client in a signed token.
type Claims struct {
	Subject  string
	Audience string
	TTL      time.Duration
}

// SignedTokenSource mints short-lived JWTs and reuses each one until it
// nears expiry.
type SignedTokenSource struct {
	method jwt.SigningMethod
	key    any
	keyID  string
	claims Claims
	now    func() time.Time

	mu      sync.Mutex
	cached  string
	renewAt time.Time
}

var _ TokenSource = (*SignedTokenSource)(nil)

// NewHMACTokenSource returns a source of HS256 tokens signed with secret.
func NewHMACTokenSource(secret []byte, claims Claims) (*SignedTokenSource, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	return newSignedTokenSource(jwt.SigningMethodHS256, secret, "", claims), nil
}

// NewKeyTokenSource returns a source of tokens signed with a private JWK.
// The algorithm follows the key type: RS256 for RSA, ES256/384/512 by curve
// for EC, EdDSA for Ed25519 and HS256 for symmetric keys.
func NewKeyTokenSource(key jwk.Key, claims Claims) (*SignedTokenSource, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is nil")
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw key material: %w", err)
	}

	var method jwt.SigningMethod
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().BitSize {
		case 256:
			method = jwt.SigningMethodES256
		case 384:
			method = jwt.SigningMethodES384
		case 521:
			method = jwt.SigningMethodES512
		default:
			return nil, fmt.Errorf("unsupported EC curve %s", k.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	case []byte:
		method = jwt.SigningMethodHS256
	default:
		return nil, fmt.Errorf("key of type %T cannot sign tokens", raw)
	}
	return newSignedTokenSource(method, raw, key.KeyID(), claims), nil
}

func newSignedTokenSource(method jwt.SigningMethod, key any, keyID string, claims Claims) *SignedTokenSource {
	if claims.TTL <= 0 {
		claims.TTL = DefaultTTL
	}
	return &SignedTokenSource{
		method: method,
		key:    key,
		keyID:  keyID,
		claims: claims,
		now:    time.Now,
	}
}

// Token implements TokenSource. A token is renewed once 90% of its lifetime
// has passed.
func (s *SignedTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Before(s.renewAt) {
		return s.cached, nil
	}

	registered := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   s.claims.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.claims.TTL)),
	}
	if s.claims.Audience != "" {
		registered.Audience = jwt.ClaimStrings{s.claims.Audience}
	}

	token := jwt.NewWithClaims(s.method, registered)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.cached = signed
	s.renewAt = now.Add(s.claims.TTL * 9 / 10)
	return signed, nil
}

// LoadSigningKey reads a single JSON Web Key from path.
func LoadSigningKey(path string) (jwk.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWK %s: %w", path, err)
	}
	return key, nil
}
