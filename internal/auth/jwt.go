package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

// Principal kinds.
const (
	KindCitizen   = "citizen"
	KindCollector = "collector"
	KindAdmin     = "admin"
)

// Principal represents the authenticated caller from JWT.
type Principal struct {
	ID   string // citizen or collector id
	Name string // display name, optional
	Kind string // "citizen" | "collector" | "admin"
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseFromMD extracts and validates a Bearer JWT from gRPC metadata and returns a Principal.
func ParseFromMD(ctx context.Context, secret string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, errors.New("missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return nil, errors.New("missing authorization")
	}
	return ParseBearer(vals[0], secret)
}

// ParseBearer validates an "Authorization: Bearer <jwt>" header value.
func ParseBearer(header, secret string) (*Principal, error) {
	if strings.TrimSpace(header) == "" {
		return nil, errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header")
	}
	return parseJWT(strings.TrimSpace(parts[1]), secret)
}

type claims struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// parseJWT validates and extracts claims from a JWT token.
// The principal id is the "sub" claim.
func parseJWT(tokenStr string, secret string) (*Principal, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	c, _ := tok.Claims.(*claims)
	if c == nil || c.Subject == "" || c.Kind == "" {
		return nil, errors.New("invalid claims")
	}
	kind := strings.ToLower(c.Kind)
	switch kind {
	case KindCitizen, KindCollector, KindAdmin:
	default:
		return nil, errors.New("unknown principal kind")
	}
	return &Principal{ID: c.Subject, Name: c.Name, Kind: kind}, nil
}

// IssueToken signs an HS256 token for the principal. A zero ttl issues a token without expiry.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	c := claims{
		Name: p.Name,
		Kind: p.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
