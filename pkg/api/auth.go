package api

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// RejectRecorder observes refused API calls. logging.RejectAggregator
// satisfies it, so API probing shows up in the same periodic report as
// refused SNMP requests.
type RejectRecorder interface {
	Rejected(source netip.AddrPort, credential string)
}

// AuthConfig holds the credentials accepted on /api/v1.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys map[string]bool
	Rejects RejectRecorder // optional
}

// NewAuthConfig builds an AuthConfig from configured users and API keys.
// It returns nil when neither is set, which disables authentication.
func NewAuthConfig(users map[string]string, keys []string, rejects RejectRecorder) *AuthConfig {
	if len(users) == 0 && len(keys) == 0 {
		return nil
	}
	cfg := &AuthConfig{
		Users:   make(map[string]string, len(users)),
		APIKeys: make(map[string]bool, len(keys)),
		Rejects: rejects,
	}
	for u, p := range users {
		cfg.Users[u] = p
	}
	for _, k := range keys {
		if k != "" {
			cfg.APIKeys[k] = true
		}
	}
	return cfg
}

// unauthenticated paths are scraped by monitoring and must stay open.
var unauthenticated = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware requires a valid credential on every path except the
// unauthenticated ones.
func authMiddleware(cfg *AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticated[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		label, ok := cfg.authenticate(r)
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		cfg.rejected(r, label)

		w.Header().Set("WWW-Authenticate", `Basic realm="snmpagentd API"`)
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "authentication required",
		})
	})
}

// authenticate checks the Authorization header first, then X-API-Key. The
// returned label names the last credential presented, for reporting.
func (cfg *AuthConfig) authenticate(r *http.Request) (string, bool) {
	label := "api:none"
	if auth := r.Header.Get("Authorization"); auth != "" {
		label = "api:authorization"
		scheme, value, _ := strings.Cut(auth, " ")
		switch scheme {
		case "Bearer":
			label = "api:bearer"
			if cfg.APIKeys[value] {
				return label, true
			}
		case "Basic":
			user, ok := cfg.checkBasic(value)
			label = "api:basic"
			if user != "" {
				label += ":" + user
			}
			if ok {
				return label, true
			}
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "api:key", cfg.APIKeys[key]
	}
	return label, false
}

// checkBasic validates a base64 user:password payload. The user name is
// returned whenever the payload parses.
func (cfg *AuthConfig) checkBasic(payload string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", false
	}
	expected, exists := cfg.Users[user]
	if !exists {
		return user, false
	}
	return user, subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1
}

func (cfg *AuthConfig) rejected(r *http.Request, label string) {
	slog.Debug("API authentication failed",
		"remote", r.RemoteAddr, "path", r.URL.Path, "credential", label)
	if cfg.Rejects == nil {
		return
	}
	remote, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return
	}
	cfg.Rejects.Rejected(remote, label)
}
