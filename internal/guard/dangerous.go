package guard

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// blockedPrefixes are administrative endpoints denied for every method.
var blockedPrefixes = []string{
	"/_cluster/settings",
	"/_security",
	"/_xpack/security",
	"/_snapshot",
	"/_slm",
	"/_ilm",
	"/_license",
	"/_xpack/license",
	"/_nodes/shutdown",
}

var (
	allIndicesPattern   = regexp.MustCompile(`^/_all(/|$)`)
	nodeShutdownPattern = regexp.MustCompile(`^/_nodes/[^/]+/_shutdown(/|$)`)
	templatesPattern    = regexp.MustCompile(`^/_(index_)?template(/\*)?$`)
)

// deleteBlocked are normalized paths that wipe every index when deleted.
var deleteBlocked = map[string]bool{
	"/":     true,
	"/_all": true,
	"/*":    true,
}

// NormalizePath gives a passthrough path a single leading slash.
func NormalizePath(raw string) string {
	return "/" + strings.TrimLeft(strings.TrimSpace(raw), "/")
}

var (
	errPathFragment = errors.New("path must not contain a fragment")
	errPathHost     = errors.New("path must not name a scheme or host")
)

// ParsePath parses a passthrough path exactly as it will be sent upstream.
// The result's RequestURI is the value to forward; its Path is decoded.
func ParsePath(raw string) (*url.URL, error) {
	p := NormalizePath(raw)
	if strings.Contains(p, "#") {
		return nil, errPathFragment
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return nil, errPathHost
	}
	return u, nil
}

// comparablePath is the decoded, cleaned, lowercased path without query.
// ok is false when raw cannot be parsed as a request path.
func comparablePath(raw string) (p string, ok bool) {
	u, err := ParsePath(raw)
	if err != nil {
		return "", false
	}
	return strings.ToLower(path.Clean(u.Path)), true
}

func hasPathPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// IsDangerousRequest reports whether a passthrough call must be refused.
// Paths that do not parse as a plain request path are refused.
func IsDangerousRequest(method, rawPath string) bool {
	p, ok := comparablePath(rawPath)
	if !ok {
		return true
	}

	for _, prefix := range blockedPrefixes {
		if hasPathPrefix(p, prefix) {
			return true
		}
	}
	if nodeShutdownPattern.MatchString(p) || allIndicesPattern.MatchString(p) {
		return true
	}

	if strings.EqualFold(method, http.MethodDelete) {
		if deleteBlocked[p] || templatesPattern.MatchString(p) {
			return true
		}
	}
	return false
}
