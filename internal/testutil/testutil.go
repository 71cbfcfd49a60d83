package testutil

import (
	"context"
	"database/sql"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"sarathi/internal/db"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// The DB is closed via t.Cleanup. Use a distinct name per test.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	// Shared cache so every pooled connection sees the same database.
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT with the subject and kind claims used by the app.
func GenerateJWTHS256(t *testing.T, secret, subject, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"kind": kind,
	}
	if subject != "" {
		claims["sub"] = subject
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxWithBearer returns a context containing gRPC metadata Authorization header with the given token.
func CtxWithBearer(ctx context.Context, token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(ctx, md)
}

// OutgoingBearer attaches the token to an outgoing client context.
func OutgoingBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
