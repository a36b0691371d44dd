package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesBearerTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "convoy-auth",
		Audience:      "convoy-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), "dispatcher-7")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "dispatcher-7" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "convoy-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "convoy-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name    string
		config  TokenIssuerConfig
		wantErr error
	}{
		{
			name:    "missing-secret",
			config:  TokenIssuerConfig{Issuer: "convoy-auth", Audience: "convoy-api", TokenTTL: time.Minute},
			wantErr: ErrMissingSigningSecret,
		},
		{
			name:    "missing-issuer",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Audience: "convoy-api", TokenTTL: time.Minute},
			wantErr: ErrMissingIssuer,
		},
		{
			name:    "blank-audience",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "convoy-auth", Audience: " ", TokenTTL: time.Minute},
			wantErr: ErrMissingAudience,
		},
		{
			name:    "non-positive-ttl",
			config:  TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "convoy-auth", Audience: "convoy-api"},
			wantErr: ErrInvalidTokenTTL,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewTokenIssuer(testCase.config)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "convoy-auth",
		Audience:      "convoy-api",
		TokenTTL:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueToken(context.Background(), "dispatcher-3")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "dispatcher-3" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}

	if _, _, err := issuer.IssueToken(context.Background(), " "); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAndExpiredTokens(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "convoy-auth",
		Audience:      "convoy-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	tokenString, _, err := issuer.IssueToken(context.Background(), "dispatcher-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "convoy-auth",
		Audience:      "convoy-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now.Add(2 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := later.ValidateToken(tokenString); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	otherAudience, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "convoy-auth",
		Audience:      "reporting-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := otherAudience.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected audience mismatch to fail validation")
	}

	otherSecret, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different"),
		Issuer:        "convoy-auth",
		Audience:      "convoy-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := otherSecret.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected signature mismatch to fail validation")
	}
}
