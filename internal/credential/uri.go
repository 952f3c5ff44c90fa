package credential

import (
	"net/url"
)

// ExtractCredentialsFromURL splits userinfo out of a cluster URL.
// Returns the URL without userinfo plus the username and password it carried.
// Unparseable URLs come back unchanged with empty credentials.
func ExtractCredentialsFromURL(raw string) (cleanURL, username, password string) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw, "", ""
	}

	username = parsed.User.Username()
	password, _ = parsed.User.Password()
	parsed.User = nil

	return parsed.String(), username, password
}

// RedactURL hides a password embedded in a URL, for logging.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Redacted()
}
