package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Class is the token class carried in the "cls" claim.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minKeyBytes = 32
)

var (
	// ErrInvalid covers malformed tokens, bad signatures and claim violations
	// other than expiry.
	ErrInvalid = errors.New("jwt: token invalid")
	// ErrExpired is returned when exp <= now.
	ErrExpired = errors.New("jwt: token expired")
	// ErrWrongClass is returned when a validly signed token of the other
	// class is presented.
	ErrWrongClass = errors.New("jwt: wrong token class")
	// ErrMissingKey is returned by NewCodec when a signing key is absent.
	ErrMissingKey = errors.New("jwt: signing key missing")
)

// Config configures a Codec. Keys are copied by NewCodec.
type Config struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
	Now        func() time.Time
}

// Subject is the identity a token is issued for.
type Subject struct {
	PrincipalID string
	TenantID    string
	Role        string
}

// Claims is the claim set of both token classes. The principal id travels
// as the registered subject and the token id as jti.
type Claims struct {
	TenantID string `json:"tid,omitempty"`
	Role     string `json:"role"`
	Class    Class  `json:"cls"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject claim.
func (c *Claims) PrincipalID() string { return c.Subject }

// Codec signs and verifies tokens. It is immutable and safe for concurrent use.
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	leeway     time.Duration
	now        func() time.Time
}

// NewCodec validates cfg. A missing or short key is an error; callers treat
// it as fatal at startup.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessKey) == 0 || len(cfg.RefreshKey) == 0 {
		return nil, ErrMissingKey
	}
	if len(cfg.AccessKey) < minKeyBytes || len(cfg.RefreshKey) < minKeyBytes {
		return nil, fmt.Errorf("jwt: signing keys must be at least %d bytes", minKeyBytes)
	}
	if bytes.Equal(cfg.AccessKey, cfg.RefreshKey) {
		return nil, errors.New("jwt: access and refresh keys must differ")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{
		accessKey:  bytes.Clone(cfg.AccessKey),
		refreshKey: bytes.Clone(cfg.RefreshKey),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		leeway:     cfg.Leeway,
		now:        cfg.Now,
	}, nil
}

// TTL returns the lifetime of class.
func (c *Codec) TTL(class Class) time.Duration {
	if class == ClassRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a new token of class for sub. The returned claims carry the
// second-precision timestamps actually encoded in the token.
func (c *Codec) Issue(class Class, sub Subject) (string, *Claims, error) {
	key, err := c.key(class)
	if err != nil {
		return "", nil, err
	}

	now := c.now()
	claims := &Claims{
		TenantID: sub.TenantID,
		Role:     sub.Role,
		Class:    class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.PrincipalID,
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(class))),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify parses token and checks it against the key of expected.
func (c *Codec) Verify(token string, expected Class) (*Claims, error) {
	key, err := c.key(expected)
	if err != nil {
		return nil, err
	}

	claims, err := c.parse(token, key)
	if err == nil {
		if claims.Class != expected {
			return nil, ErrWrongClass
		}
		if claims.Subject == "" {
			return nil, ErrInvalid
		}
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpired
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		other := ClassRefresh
		if expected == ClassRefresh {
			other = ClassAccess
		}
		otherKey, _ := c.key(other)
		if _, oerr := c.parse(token, otherKey); oerr == nil || !errors.Is(oerr, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrWrongClass
		}
	}
	return nil, ErrInvalid
}

func (c *Codec) parse(token string, key []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.leeway > 0 {
		options = append(options, jwt.WithLeeway(c.leeway))
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (c *Codec) key(class Class) ([]byte, error) {
	switch class {
	case ClassAccess:
		return c.accessKey, nil
	case ClassRefresh:
		return c.refreshKey, nil
	}
	return nil, fmt.Errorf("jwt: unknown token class %q", class)
}
