package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDevTokens(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("driver:d-42")
	if err != nil || p.Role != RoleDriver || p.DriverID != "d-42" || p.CanManage() {
		t.Fatalf("driver: %+v %v", p, err)
	}
	p, err = v.Verify("Coordinator")
	if err != nil || !p.CanManage() || p.IsAdmin() {
		t.Fatalf("coordinator: %+v %v", p, err)
	}
	if _, err := v.Verify("pastor"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown role should fail, got %v", err)
	}
}

func TestHMACTokens(t *testing.T) {
	v := &Verifier{Mode: "hmac", HMACSecret: []byte("s3cret"), RoleClaim: "role", DriverClaim: "sub"}
	sign := func(secret string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	p, err := v.Verify(sign("s3cret", jwt.MapClaims{"sub": "d-7", "role": "driver", "exp": time.Now().Add(time.Hour).Unix()}))
	if err != nil || p.DriverID != "d-7" || p.Subject != "d-7" {
		t.Fatalf("valid token: %+v %v", p, err)
	}
	if _, err := v.Verify(sign("other", jwt.MapClaims{"role": "admin"})); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad signature accepted: %v", err)
	}
	if _, err := v.Verify(sign("s3cret", jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Hour).Unix()})); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if _, err := v.Verify(sign("s3cret", jwt.MapClaims{"sub": "x"})); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing role accepted: %v", err)
	}
}

func TestJWKSTokens(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := &Verifier{Mode: "jwks", JWKSURL: srv.URL, RoleClaim: "role", DriverClaim: "sub", http: srv.Client(), cacheTTL: time.Minute}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u1", "role": "admin"})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(s)
	if err != nil || !p.IsAdmin() {
		t.Fatalf("jwks token: %+v %v", p, err)
	}
	tok.Header["kid"] = "missing"
	s, _ = tok.SignedString(key)
	if _, err := v.Verify(s); err == nil {
		t.Fatal("unknown kid accepted")
	}
}
