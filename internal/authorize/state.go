package authorize

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// stateBytes is the number of random bytes behind the OAuth2 state
// parameter. 32 bytes encode to 43 base64url characters.
const stateBytes = 32

// GenerateState generates a random state parameter binding an
// authorization response back to the request that produced it.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
