package auth

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/secaudit/findings-relay/src/types"
)

// Verifier validates RS256 bearer tokens offline against a PEM public key.
// The key is read lazily on first use and cached for the process lifetime.
// Every failure mode (unreadable key, bad signature, wrong algorithm,
// expiry, malformed claims) yields "invalid"; Validate never panics and
// never returns an error to the caller.
type Verifier struct {
	keyPath string
	logger  zerolog.Logger

	mu  sync.Mutex
	key *rsa.PublicKey
}

// NewVerifier creates a verifier for the public key at keyPath.
func NewVerifier(keyPath string, logger zerolog.Logger) *Verifier {
	return &Verifier{
		keyPath: keyPath,
		logger:  logger.With().Str("component", "verifier").Logger(),
	}
}

// EnsureKey loads the key eagerly so startup can fail fast on a missing
// or unparseable key file. Validate does not require a prior call.
func (v *Verifier) EnsureKey() error {
	_, err := v.loadKey()
	return err
}

func (v *Verifier) loadKey() (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key, nil
	}
	pemBytes, err := os.ReadFile(v.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", v.keyPath, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", v.keyPath, err)
	}
	v.key = key
	return key, nil
}

// Validate checks the token signature and claims. The subject identity
// prefers the `sub` claim and falls back to `username` when sub is
// absent (the issuing auth service keys tokens by username).
func (v *Verifier) Validate(token string) (types.Identity, bool) {
	key, err := v.loadKey()
	if err != nil {
		v.logger.Error().Err(err).Msg("verification key unavailable")
		return types.Identity{}, false
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithJSONNumber(),
	)
	if err != nil || !parsed.Valid {
		v.logger.Debug().Err(err).Msg("token rejected")
		return types.Identity{}, false
	}

	username, _ := claims["username"].(string)
	userID := subjectID(claims["sub"], username)
	if userID == nil {
		v.logger.Debug().Msg("token carries no subject or username claim")
		return types.Identity{}, false
	}

	return types.Identity{
		UserID: userID,
		Email:  username,
		Roles:  roleClaims(claims["roles"]),
	}, true
}

// subjectID normalizes the sub claim, keeping the JSON type the token
// used so auth_success echoes it back unchanged.
func subjectID(sub any, username string) any {
	switch s := sub.(type) {
	case string:
		if s != "" {
			return s
		}
	case json.Number:
		return s
	}
	if username != "" {
		return username
	}
	return nil
}

func roleClaims(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return []string{}
	}
	roles := make([]string, 0, len(list))
	for _, r := range list {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
