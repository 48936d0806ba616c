// Package credential mints and verifies the opaque access tokens handed to
// applications once governance approves their requests.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces opaque token values. Injected so tests can supply
// deterministic tokens; callers must treat values as meaningless beyond
// uniqueness and stability until explicit regeneration.
type Generator interface {
	Generate() (string, error)
}

// UUIDGenerator issues uuid-shaped tokens. Default for dataset tokens where
// the value only needs to be unique and stable.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() (string, error) {
	return uuid.NewString(), nil
}

// RandomGenerator issues 256-bit random tokens, base64url-encoded. Used for
// application-level tokens which act as bearer credentials.
type RandomGenerator struct{}

func (RandomGenerator) Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
