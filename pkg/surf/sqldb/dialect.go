package sqldb

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type placeholderStyle int

const (
	questionPlaceholders placeholderStyle = iota
	dollarPlaceholders
)

// Dialect describes how to talk to one database backend.
type Dialect struct {
	name       string
	driverName string
	style      placeholderStyle

	// lastInsertID is true when the driver reports generated identifiers
	// through sql.Result.LastInsertId.
	lastInsertID bool

	// verifyQuery is run at open time. It must touch the storage so that
	// a broken or foreign file is reported before the connection is
	// handed out.
	verifyQuery  string
	versionQuery string

	defaultPort int
	dsn         func(ConnectionConfig) (string, error)
}

func (d *Dialect) Name() string { return d.name }

var (
	SQLite = &Dialect{
		name:         "sqlite",
		driverName:   "sqlite",
		style:        questionPlaceholders,
		lastInsertID: true,
		verifyQuery:  "SELECT count(*) FROM sqlite_master",
		versionQuery: "SELECT sqlite_version()",
	}

	Postgres = &Dialect{
		name:         "postgres",
		driverName:   "postgres",
		style:        dollarPlaceholders,
		verifyQuery:  "SELECT 1",
		versionQuery: "SHOW server_version",
		defaultPort:  5432,
	}

	MySQL = &Dialect{
		name:         "mysql",
		driverName:   "mysql",
		style:        questionPlaceholders,
		lastInsertID: true,
		verifyQuery:  "SELECT 1",
		versionQuery: "SELECT VERSION()",
		defaultPort:  3306,
	}
)

// DSN builders reach the dialect table through ConnectionConfig.port, so
// they are attached after the variables are initialized.
func init() {
	SQLite.dsn = sqliteDSN
	Postgres.dsn = postgresDSN
	MySQL.dsn = mysqlDSN
}

// LookupDialect returns the dialect registered under given driver name.
func LookupDialect(driver string) (*Dialect, bool) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "postgresql", "pg":
		return Postgres, true
	case "mysql", "mariadb":
		return MySQL, true
	default:
		return nil, false
	}
}

const defaultBusyTimeout = 5 * time.Second

func sqliteDSN(c ConnectionConfig) (string, error) {
	busy := c.Timeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if !isMemoryPath(c.Database) {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	// Writers take the lock at BEGIN so that two transactions never
	// deadlock upgrading a shared lock.
	q.Set("_txlock", "immediate")
	return c.Database + "?" + q.Encode(), nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func postgresDSN(c ConnectionConfig) (string, error) {
	pairs := []string{
		"host", c.Host,
		"port", strconv.Itoa(c.port()),
		"dbname", c.Database,
		"user", c.User,
		"password", c.Password,
		"sslmode", c.SSLMode,
		"client_encoding", "UTF8",
	}
	if c.Timeout > 0 {
		secs := int(math.Ceil(c.Timeout.Seconds()))
		pairs = append(pairs, "connect_timeout", strconv.Itoa(secs))
	}

	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pairs[i])
		b.WriteString("='")
		b.WriteString(pqEscaper.Replace(pairs[i+1]))
		b.WriteByte('\'')
	}
	return b.String(), nil
}

var pqEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func mysqlDSN(c ConnectionConfig) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.port()))
	cfg.DBName = c.Database
	cfg.Timeout = c.Timeout
	cfg.ParseTime = true
	// Parameters must travel separately from the statement text.
	cfg.InterpolateParams = false
	cfg.Params = map[string]string{
		"charset": c.encoding(),
	}

	switch c.SSLMode {
	case "", "disable":
	case "require":
		cfg.TLSConfig = "skip-verify"
	case "verify-full":
		cfg.TLSConfig = "true"
	case "prefer":
		cfg.TLSConfig = "preferred"
	default:
		return "", fmt.Errorf("unsupported sslmode %q", c.SSLMode)
	}
	return cfg.FormatDSN(), nil
}
