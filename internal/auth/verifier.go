// Package auth verifies bearer tokens and maps them to a role.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"churchtransport/internal/config"
)

// Roles understood by the API.
const (
	RoleAdmin       = "admin"
	RoleCoordinator = "coordinator"
	RoleDriver      = "driver"
)

var ErrUnauthorized = errors.New("unauthorized")

// Principal is the caller behind a verified token.
type Principal struct {
	Subject  string
	Role     string
	DriverID string
}

// CanManage is true for roles allowed to change transport data.
func (p Principal) CanManage() bool {
	return p.Role == RoleAdmin || p.Role == RoleCoordinator
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Verifier validates tokens in one of three modes: dev (token is "role" or "role:driverID",
// unsigned), hmac (HS256) or jwks (RS256 keys from a JWKS URL).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	JWKSURL     string
	RoleClaim   string
	DriverClaim string

	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{
		Mode:        cfg.AuthMode,
		HMACSecret:  []byte(cfg.AuthHMACSecret),
		JWKSURL:     cfg.AuthJWKSURL,
		RoleClaim:   cfg.AuthRoleClaim,
		DriverClaim: cfg.AuthDriverClaim,
		http:        &http.Client{Timeout: 5 * time.Second},
		cacheTTL:    10 * time.Minute,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	if v.Mode == "" || v.Mode == "dev" {
		role, driver, _ := strings.Cut(token, ":")
		role = strings.ToLower(role)
		if !knownRole(role) {
			return Principal{}, fmt.Errorf("%w: unknown dev role %q", ErrUnauthorized, role)
		}
		return Principal{Subject: role, Role: role, DriverID: driver}, nil
	}

	claims := jwt.MapClaims{}
	var (
		tok *jwt.Token
		err error
	)
	switch v.Mode {
	case "hmac":
		tok, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return v.HMACSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
	case "jwks":
		tok, err = jwt.ParseWithClaims(token, claims, v.rsaKey, jwt.WithValidMethods([]string{"RS256"}))
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
	if err != nil || !tok.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	role, _ := claims[v.RoleClaim].(string)
	role = strings.ToLower(role)
	if !knownRole(role) {
		return Principal{}, fmt.Errorf("%w: missing or unknown role claim", ErrUnauthorized)
	}
	sub, _ := claims.GetSubject()
	p := Principal{Subject: sub, Role: role}
	if role == RoleDriver {
		p.DriverID, _ = claims[v.DriverClaim].(string)
	}
	return p, nil
}

func knownRole(r string) bool {
	return r == RoleAdmin || r == RoleCoordinator || r == RoleDriver
}

func (v *Verifier) rsaKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(context.Background()); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return err
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return err
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
