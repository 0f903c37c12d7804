package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errNoToken      = errors.New("no bearer token provided")
	errInvalidToken = errors.New("invalid bearer token")
	errExpiredToken = errors.New("bearer token has expired")
	errRevokedToken = errors.New("bearer token has been revoked")
)

// GatewayClaims identifies the caller on the other side of the gateway's
// bearer-auth boundary. This is a distinct concern from
// pkg/capability's scoped, opaque tool tokens: a gateway claim answers
// "who is calling the HTTP surface", a capability token answers
// "is this specific tool action authorized".
type GatewayClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates the gateway's bearer JWTs.
type TokenManager struct {
	secretKey []byte
	mu        sync.RWMutex
	revoked   map[string]time.Time
}

// NewTokenManager constructs a TokenManager over an HMAC secret key.
func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{secretKey: []byte(secretKey), revoked: make(map[string]time.Time)}
}

// IssueToken mints a bearer token for agentID valid for ttl.
func (tm *TokenManager) IssueToken(agentID string, ttl time.Duration) (string, error) {
	id, err := newTokenID()
	if err != nil {
		return "", fmt.Errorf("httpapi: generating token id: %w", err)
	}
	now := time.Now()
	claims := &GatewayClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken parses and verifies a bearer token, rejecting expired,
// malformed, or revoked tokens.
func (tm *TokenManager) ValidateToken(tokenString string) (*GatewayClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &GatewayClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errExpiredToken
		}
		return nil, errInvalidToken
	}
	claims, ok := parsed.Claims.(*GatewayClaims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}

	tm.mu.RLock()
	_, isRevoked := tm.revoked[claims.ID]
	tm.mu.RUnlock()
	if isRevoked {
		return nil, errRevokedToken
	}
	return claims, nil
}

// RevokeToken parses tokenString without verifying its signature (a
// revocation must still succeed against a token whose secret has since
// rotated) and records its ID as revoked.
func (tm *TokenManager) RevokeToken(tokenString string) error {
	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, &GatewayClaims{})
	if err != nil {
		return fmt.Errorf("httpapi: parsing token: %w", err)
	}
	claims, ok := parsed.Claims.(*GatewayClaims)
	if !ok {
		return errInvalidToken
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.revoked[claims.ID] = time.Now()
	return nil
}

type contextKey string

const agentIDContextKey contextKey = "safeai.agent_id"

// RequireBearerAuth is gateway-mode middleware: every request must carry
// a valid `Authorization: Bearer <token>` header, or it is rejected
// before reaching any handler. Sidecar mode does not install this
// middleware (spec.md §6's "gateway mode requires ... sidecar mode does
// not").
func RequireBearerAuth(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, http.StatusUnauthorized, errNoToken.Error())
				return
			}
			claims, err := tm.ValidateToken(strings.TrimPrefix(header, prefix))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), agentIDContextKey, claims.AgentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func agentIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(agentIDContextKey).(string)
	return v
}

func newTokenID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
