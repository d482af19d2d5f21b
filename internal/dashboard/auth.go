package dashboard

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Auth errors.
var (
	ErrBadPIN       = errors.New("parent PIN rejected")
	ErrBadToken     = errors.New("missing or unknown session token")
	ErrNoPINSet     = errors.New("no parent PIN configured")
	ErrAuthDisabled = errors.New("authentication disabled")
)

// Auth verifies the parent PIN and tracks issued session tokens.
// Tokens live for the duration of the daemon process; disconnecting
// does not revoke them, re-running the daemon does.
type Auth struct {
	mu      sync.Mutex
	pinHash []byte
	tokens  map[string]string // token -> client name
}

// NewAuth takes the bcrypt hash of the parent PIN from config. An empty
// hash disables privileged operations rather than allowing them.
func NewAuth(pinHash string) *Auth {
	return &Auth{
		pinHash: []byte(pinHash),
		tokens:  make(map[string]string),
	}
}

// HashPIN produces the bcrypt hash stored in config.
func HashPIN(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(h), nil
}

// Authenticate verifies the PIN and issues a token for the client.
func (a *Auth) Authenticate(clientName, pin string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pinHash) == 0 {
		return "", ErrNoPINSet
	}
	if err := bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)); err != nil {
		return "", ErrBadPIN
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)
	a.tokens[token] = clientName
	return token, nil
}

// Check returns the client name behind a token.
func (a *Auth) Check(token string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.tokens[token]
	if !ok {
		return "", ErrBadToken
	}
	return name, nil
}

// Revoke drops a token.
func (a *Auth) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}
