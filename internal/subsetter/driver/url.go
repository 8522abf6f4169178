package driver

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// KindFromURL infers the driver Kind from a connection URL's scheme
// ("postgres"/"postgresql" or "mysql").
func KindFromURL(dsn string) (Kind, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("driver: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return KindPostgres, nil
	case "mysql":
		return KindMySQL, nil
	default:
		return "", fmt.Errorf("driver: unrecognized scheme %q", u.Scheme)
	}
}

// ExpandPassword substitutes every "$VAR"/"${VAR}" reference anywhere in a
// connection URL (a password placeholder in the userinfo being the usual
// case) with the named environment variable's value, the same os.ExpandEnv-based indirection the teacher's config loader uses
// for YAML files (internal/config/config.go Load), so secrets never need to
// sit in plaintext on argv or in the config file.
func ExpandPassword(dsn string) string {
	return os.ExpandEnv(dsn)
}
