package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ClientInfo captures the request attributes an attempt is bound to.
type ClientInfo struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	IPAddress        string `json:"ip_address"`
}

// Fingerprint derives the device-continuity fingerprint for the client.
// The IP address is deliberately excluded so a session survives mobile
// network handoffs; only device-shaped attributes participate.
func (c ClientInfo) Fingerprint() string {
	h := sha256.New()
	for _, attr := range []string{c.UserAgent, c.ScreenResolution, c.Timezone, c.Language} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(attr))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
