package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or carries a bad signature.
	// Callers must not distinguish between these cases when responding to clients.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned when a provider is built without a secret or key pair.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// AccessClaims holds JWT claims for the access token. Only identity id (sub) and role; never PII.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AccessIdentity is the verified content of an access token.
type AccessIdentity struct {
	IdentityID string
	Role       string
}

// TokenProvider issues and validates short-lived access JWTs. It signs with an HMAC secret (HS256)
// or, when constructed with a key pair, with RS256, ES256 or EdDSA. Validation accepts only the
// provider's own algorithm.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewHMACTokenProvider returns a TokenProvider that signs with secret using HS256.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	return &TokenProvider{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// NewKeyPairTokenProvider returns a TokenProvider that signs with privateKey. The algorithm follows
// the key type.
func NewKeyPairTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrNoSigningKey
	}
	method := methodFor(publicKey)
	if method == nil {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		method:    method,
		signKey:   privateKey,
		verifyKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// IssueAccess issues a short-lived access JWT for the given identity and role.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(identityID, role string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// Alg returns the JWT alg the provider signs with.
func (p *TokenProvider) Alg() string {
	return p.method.Alg()
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
}

func (p *TokenProvider) keyFunc(*jwt.Token) (interface{}, error) {
	return p.verifyKey, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
// Every failure collapses to ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (AccessIdentity, error) {
	if tokenString == "" {
		return AccessIdentity{}, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc,
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return AccessIdentity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Role == "" {
		return AccessIdentity{}, ErrInvalidToken
	}
	return AccessIdentity{IdentityID: claims.Subject, Role: claims.Role}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
