package sqldb

import (
	"fmt"
	"strings"
	"time"

	"github.com/husio/sqlsafe/pkg/surf"
)

// ConnectionConfig describes how to reach a database. For SQLite, Database
// is the file path and the network fields are ignored.
type ConnectionConfig struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Encoding is the client character set. SQLite and PostgreSQL accept
	// only UTF-8. MySQL accepts any charset name and defaults to utf8mb4.
	Encoding string

	// Timeout limits opening and verifying the connection.
	Timeout time.Duration

	// QueryTimeout is applied to every statement whose context has no
	// deadline. Zero means no limit.
	QueryTimeout time.Duration

	SSLMode string
}

// ConfigFromEnv reads the connection configuration from the environment.
func ConfigFromEnv(env *surf.EnvConf) ConnectionConfig {
	return ConnectionConfig{
		Driver:       env.Str("DB_DRIVER", "sqlite", "Database backend: sqlite, postgres or mysql."),
		Host:         env.Str("DB_HOST", "localhost", "Database server host."),
		Port:         env.Int("DB_PORT", 0, "Database server port. Zero selects the backend default."),
		Database:     env.Str("DB_NAME", "sqlsafe.db", "Database name, or file path for sqlite."),
		User:         env.Str("DB_USER", "", "Database user."),
		Password:     env.Secret("DB_PASSWORD", "", "Database password."),
		Encoding:     env.Str("DB_ENCODING", "", "Client character set."),
		Timeout:      env.Duration("DB_TIMEOUT", 10*time.Second, "Connect timeout."),
		QueryTimeout: env.Duration("DB_QUERY_TIMEOUT", 0, "Statement timeout used when the caller sets none."),
		SSLMode:      env.Str("DB_SSLMODE", "", "TLS mode: disable, require, verify-full or prefer."),
	}
}

// Validate returns a ConnectionFailure error of ReasonConfig describing the
// first problem found.
func (c ConnectionConfig) Validate() error {
	d, ok := LookupDialect(c.Driver)
	if !ok {
		return configErr("unknown driver %q", c.Driver)
	}
	if c.Database == "" {
		return configErr("database name is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return configErr("invalid port %d", c.Port)
	}
	if c.Timeout < 0 || c.QueryTimeout < 0 {
		return configErr("timeouts must not be negative")
	}
	if d != SQLite && c.Host == "" {
		return configErr("host is required for %s", d.name)
	}

	switch d {
	case SQLite, Postgres:
		if c.Encoding != "" && !isUTF8(c.Encoding) {
			return configErr("%s supports only UTF-8 encoding, got %q", d.name, c.Encoding)
		}
	case MySQL:
		if !isIdentifier(c.encoding()) {
			return configErr("invalid charset %q", c.Encoding)
		}
	}

	switch c.SSLMode {
	case "", "disable", "require", "verify-full", "prefer":
	default:
		if d != SQLite {
			return configErr("unsupported sslmode %q", c.SSLMode)
		}
	}
	return nil
}

// String returns a description safe to log. The password is never included.
func (c ConnectionConfig) String() string {
	if d, ok := LookupDialect(c.Driver); ok && d == SQLite {
		return fmt.Sprintf("sqlite:%s", c.Database)
	}
	pass := ""
	if c.Password != "" {
		pass = ":xxxxx"
	}
	return fmt.Sprintf("%s://%s%s@%s:%d/%s", c.Driver, c.User, pass, c.Host, c.port(), c.Database)
}

func (c ConnectionConfig) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if d, ok := LookupDialect(c.Driver); ok {
		return d.defaultPort
	}
	return 0
}

func (c ConnectionConfig) encoding() string {
	if c.Encoding == "" {
		return "utf8mb4"
	}
	return c.Encoding
}

func isUTF8(enc string) bool {
	switch strings.ToLower(strings.ReplaceAll(enc, "-", "")) {
	case "utf8", "unicode":
		return true
	}
	return false
}

func configErr(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    ConnectionFailure,
		Reason:  ReasonConfig,
		Message: fmt.Sprintf(format, args...),
	}
}
