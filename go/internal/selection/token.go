package selection

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// claimTokenBytes sizes the token secret. 32 bytes of entropy, hex
// encoded, matches what the claim endpoint accepts in a URL.
const claimTokenBytes = 32

func generateClaimToken() (string, error) {
	b := make([]byte, claimTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
