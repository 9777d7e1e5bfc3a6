package interfaces

import (
	"fmt"
	"net/url"
)

// KeySourceLocation is a parsed seed source URI.
type KeySourceLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewKeySourceLocation parses a key source URI, validating its scheme.
//
// Supported schemes:
//   - local://<hex master key>
//   - vault://host:port/<transit mount>/<key name>
//   - awskms://<region>/<key id or alias>
func NewKeySourceLocation(uri string) (KeySourceLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return KeySourceLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	switch parsed.Scheme {
	case "local", "vault", "awskms":
	default:
		return KeySourceLocation{}, fmt.Errorf("%w: %s", ErrUnsupportedKeySource, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return KeySourceLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc KeySourceLocation) String() string {
	return loc.Raw
}
