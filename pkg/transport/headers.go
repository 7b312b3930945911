package transport

import (
	"net/http"

	"github.com/harun/anuneko/internal/config"
)

// BuildHeaders returns a fresh header set for one request. Credentials are
// resolved on every call so environment overrides apply immediately.
func BuildHeaders(cfg *config.Config) http.Header {
	creds := cfg.ResolveCredentials()
	b := cfg.Backend

	h := make(http.Header, 10)
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/json")
	h.Set("Origin", b.Origin)
	h.Set("Referer", b.Referer)
	h.Set("User-Agent", b.UserAgent)
	// The backend expects these names verbatim; Set would canonicalize them.
	h["x-app_id"] = []string{b.AppID}
	h["x-client_type"] = []string{b.ClientType}
	h["x-device_id"] = []string{b.DeviceID}
	h["x-token"] = []string{creds.Token}
	if creds.Cookie != "" {
		h.Set("Cookie", creds.Cookie)
	}
	return h
}
