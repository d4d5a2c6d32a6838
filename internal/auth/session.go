// internal/auth/session.go
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/scrimlobby/internal/apperr"
)

// CookieName is the cookie a browser client carries its session token in.
const CookieName = "auth_token"

// keys used for signing and verifying session tokens.
var (
	mu         sync.RWMutex
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long issued tokens stay valid (0 => no exp claim).
	tokenTTL time.Duration
)

// parseTokenTTL reads TOKEN_EXPIRE_TIME ("never", "0", "" or a Go duration).
func parseTokenTTL() (time.Duration, error) {
	raw := os.Getenv("TOKEN_EXPIRE_TIME")
	if raw == "never" || raw == "0" || raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
	}
	return d, nil
}

// Init generates an ephemeral ed25519 key pair. Tokens signed with it stop
// verifying when the process restarts.
func Init() error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	ttl, err := parseTokenTTL()
	if err != nil {
		return err
	}
	setKeys(priv, pub, ttl)
	return nil
}

// InitFromPath loads the key pair from PEM files, or raw key bytes when the
// files are not PEM encoded.
func InitFromPath(privatePath, publicPath string) error {
	privData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	pubData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
	)
	if k, err := jwt.ParseEdPrivateKeyFromPEM(privData); err == nil {
		priv = k.(ed25519.PrivateKey)
	} else if len(privData) == ed25519.PrivateKeySize {
		priv = ed25519.PrivateKey(privData)
	} else {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pubData); err == nil {
		pub = k.(ed25519.PublicKey)
	} else if len(pubData) == ed25519.PublicKeySize {
		pub = ed25519.PublicKey(pubData)
	} else {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	ttl, err := parseTokenTTL()
	if err != nil {
		return err
	}
	setKeys(priv, pub, ttl)
	return nil
}

func setKeys(priv ed25519.PrivateKey, pub ed25519.PublicKey, ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	privateKey, publicKey, tokenTTL = priv, pub, ttl
}

// CreateJWT signs a token whose "sub" is the player id.
func CreateJWT(playerID int64) (string, error) {
	mu.RLock()
	key, ttl := privateKey, tokenTTL
	mu.RUnlock()
	if key == nil {
		return "", fmt.Errorf("auth keys are not initialised")
	}

	claims := jwt.MapClaims{"sub": strconv.FormatInt(playerID, 10)}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// AuthenticateJWT verifies a token and returns the player id in "sub".
func AuthenticateJWT(tokenString string) (int64, error) {
	mu.RLock()
	key := publicKey
	mu.RUnlock()
	if key == nil {
		return 0, fmt.Errorf("auth keys are not initialised")
	}

	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return 0, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, fmt.Errorf("missing sub in jwt")
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("sub %q is not a player id", sub)
	}
	return id, nil
}

// TokenFromRequest returns the bearer token, falling back to the auth cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// PlayerIDFromRequest authenticates r and returns the caller's player id.
func PlayerIDFromRequest(r *http.Request) (int64, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return 0, apperr.Unauthorized("missing auth token")
	}
	id, err := AuthenticateJWT(token)
	if err != nil {
		return 0, apperr.Unauthorized("invalid auth token")
	}
	return id, nil
}

type ctxKey struct{}

// WithPlayerID stores the authenticated player id on ctx.
func WithPlayerID(ctx context.Context, playerID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, playerID)
}

// PlayerIDFrom returns the player id stored by WithPlayerID.
func PlayerIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
