// Package guard holds the stateless request validators applied before any
// cluster call: name rules, connection input and the dangerous-request check.
package guard

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/peternagy/espal/internal/core"
)

// Elasticsearch naming constraints:
// - Index names: max 255 bytes, lowercase only, no leading - _ +, not . or ..
// - Both index and alias names: no whitespace or \ / * ? " < > | , # :
const (
	maxNameLength           = 255
	maxConnectionNameLength = 100
	forbiddenNameChars      = `\/*?"<>|,#:`
)

func hasForbiddenChars(name string) bool {
	for _, r := range name {
		if unicode.IsSpace(r) || strings.ContainsRune(forbiddenNameChars, r) {
			return true
		}
	}
	return false
}

// ValidateIndexName checks an index name. Returns nil when the name is valid.
func ValidateIndexName(name string) error {
	if name == "" {
		return core.Validation(core.ErrIndexNameRequired)
	}
	if len(name) > maxNameLength {
		return core.Validation(core.ErrIndexNameTooLong)
	}
	switch name[0] {
	case '-', '_', '+':
		return core.Validation(core.ErrIndexNameInvalidStart)
	}
	if hasForbiddenChars(name) {
		return core.Validation(core.ErrIndexNameInvalidChars)
	}
	if name == "." || name == ".." {
		return core.Validation(core.ErrIndexNameInvalid)
	}
	if strings.ToLower(name) != name {
		return core.Validation(core.ErrIndexNameLowercase)
	}
	return nil
}

// ValidateAliasName checks an alias name. Aliases may contain uppercase.
func ValidateAliasName(name string) error {
	if name == "" {
		return core.Validation(core.ErrAliasNameRequired)
	}
	if len(name) > maxNameLength {
		return core.Validation(core.ErrAliasNameTooLong)
	}
	if hasForbiddenChars(name) {
		return core.Validation(core.ErrAliasNameInvalidChars)
	}
	return nil
}

// ValidateConnectionInput checks the name and URL of a connection profile.
func ValidateConnectionInput(name, rawURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Validation(core.ErrConnectionNameRequired)
	}
	if utf8.RuneCountInString(name) > maxConnectionNameLength {
		return core.Validation(core.ErrConnectionNameTooLong)
	}
	return ValidateClusterURL(rawURL)
}

// ValidateClusterURL requires a well-formed absolute URL.
func ValidateClusterURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return core.Validation(core.ErrConnectionURLRequired)
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return core.Validation(core.ErrConnectionURLInvalid)
	}
	return nil
}

var savedQueryMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// ValidMethod reports whether method is one the REST console may send.
func ValidMethod(method string) bool {
	return savedQueryMethods[strings.ToUpper(method)]
}

// ValidateSavedQuery checks the fields of a saved REST call.
func ValidateSavedQuery(name, method, path string) error {
	if strings.TrimSpace(name) == "" {
		return core.Validation(core.ErrQueryNameRequired)
	}
	if !ValidMethod(method) {
		return core.Validation(core.ErrQueryMethodInvalid)
	}
	if strings.TrimSpace(path) == "" {
		return core.Validation(core.ErrQueryPathRequired)
	}
	return nil
}
