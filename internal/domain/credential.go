package domain

import (
	"sort"
	"strings"
	"time"
)

// Credential is the session-identifying token set required to call the
// generation service. AccessToken is derived from the cookie it was exchanged
// against; replacing the cookie invalidates it.
type Credential struct {
	SessionCookie string
	AccessToken   string
	RefreshedAt   time.Time
}

// Empty reports whether no session has been established yet.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.SessionCookie) == ""
}

// Stale reports whether the credential is due for an advisory refresh.
// A miss is tolerated; the authoritative invalidation signal is an
// unauthorized response from a downstream call.
func (c Credential) Stale(now time.Time, interval time.Duration) bool {
	if c.Empty() {
		return false
	}
	return now.Sub(c.RefreshedAt) > interval
}

// XSRFToken extracts the anti-forgery token embedded in the session cookie.
// Returns the empty string when the cookie carries none.
func (c Credential) XSRFToken() string {
	for _, part := range strings.Split(c.SessionCookie, ";") {
		part = strings.TrimSpace(part)
		if value, ok := strings.CutPrefix(part, "XSRF-TOKEN="); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// MergeCookie folds freshly issued cookie pairs into the existing cookie
// string, replacing values for keys already present and appending the rest.
func MergeCookie(existing string, pairs map[string]string) string {
	if len(pairs) == 0 {
		return existing
	}
	parts := []string{}
	if strings.TrimSpace(existing) != "" {
		parts = strings.Split(existing, "; ")
	}
	seen := map[string]int{}
	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if ok {
			seen[key] = i
		}
	}
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if idx, ok := seen[key]; ok {
			parts[idx] = key + "=" + pairs[key]
			continue
		}
		parts = append(parts, key+"="+pairs[key])
	}
	return strings.Join(parts, "; ")
}
