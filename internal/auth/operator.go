// ABOUTME: Operator credential checking against a bcrypt hash or a plain shared token
// ABOUTME: Also provides HashToken for producing operator.token_hash values

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrOperatorDenied is returned when an operator credential is missing or wrong
var ErrOperatorDenied = errors.New("operator access denied")

// OperatorChecker validates the shared operator credential.
// A bcrypt hash takes precedence over a plain token when both are set.
type OperatorChecker struct {
	token []byte
	hash  []byte
}

// NewOperatorChecker creates a checker. With neither token nor hash
// configured every credential is denied.
func NewOperatorChecker(token, tokenHash string) *OperatorChecker {
	c := &OperatorChecker{}
	if tokenHash != "" {
		c.hash = []byte(tokenHash)
	} else if token != "" {
		c.token = []byte(token)
	}
	return c
}

// Enabled reports whether any operator credential is configured
func (c *OperatorChecker) Enabled() bool {
	return c != nil && (len(c.hash) > 0 || len(c.token) > 0)
}

// Check returns nil if credential grants operator access
func (c *OperatorChecker) Check(credential string) error {
	if !c.Enabled() || credential == "" {
		return ErrOperatorDenied
	}

	if len(c.hash) > 0 {
		if err := bcrypt.CompareHashAndPassword(c.hash, []byte(credential)); err != nil {
			return ErrOperatorDenied
		}
		return nil
	}

	if subtle.ConstantTimeCompare(c.token, []byte(credential)) != 1 {
		return ErrOperatorDenied
	}
	return nil
}

// HashToken returns a bcrypt hash suitable for operator.token_hash
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(hash), nil
}
