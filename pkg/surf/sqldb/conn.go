package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/husio/sqlsafe/pkg/surf"
)

const defaultOpenTimeout = 10 * time.Second

// Conn is a single session with a database. It is not safe for concurrent
// use; open one Conn per goroutine. All statements, transactions and result
// sets created from a Conn must not outlive it.
type Conn struct {
	cfg     ConnectionConfig
	dialect *Dialect
	db      *sql.DB
	sess    session
	logger  surf.Logger

	// openLogger is the logger of the context passed to Open. It is used
	// when the context of a call carries none, e.g. in Close.
	openLogger surf.Logger

	closed bool
	tx     *Tx
	cursor *Rows
}

// Option configures a Conn at open time.
type Option func(*Conn)

// WithLogger sets the logger used by the connection. Without it, the
// logger attached to the context is used.
func WithLogger(l surf.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// Open establishes and verifies a new session using given configuration.
// Any failure, including an invalid configuration, is reported as
// ConnectionFailure and no resources are retained.
func Open(ctx context.Context, cfg ConnectionConfig, opts ...Option) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, _ := LookupDialect(cfg.Driver)
	dsn, err := d.dsn(cfg)
	if err != nil {
		return nil, configErr("%s", err)
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, openFailure(ctx, err)
	}
	// Each Conn is exactly one backend session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sc, err := db.Conn(octx)
	if err != nil {
		_ = db.Close()
		return nil, openFailure(octx, err)
	}
	sess := traceSession(&sqlSession{conn: sc}, d.name)
	if err := verify(octx, sess, d); err != nil {
		_ = sess.Close()
		_ = db.Close()
		return nil, openFailure(octx, err)
	}

	c := &Conn{
		cfg:     cfg,
		dialect: d,
		db:      db,
		sess:    sess,
	}
	if l, ok := surf.CurrentLogger(ctx); ok {
		c.openLogger = l
	}
	for _, o := range opts {
		o(c)
	}
	c.logInfo(ctx, "database connection open",
		"database", cfg.String())
	return c, nil
}

func verify(ctx context.Context, sess session, d *Dialect) error {
	if err := sess.PingContext(ctx); err != nil {
		return err
	}
	rows, err := sess.QueryContext(ctx, d.verifyQuery)
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func openFailure(ctx context.Context, err error) error {
	ce := Classify(err)
	e := &Error{
		Kind:    ConnectionFailure,
		Reason:  ce.Reason,
		Code:    ce.Code,
		Message: ce.Message,
		Err:     err,
	}
	if ctx.Err() != nil {
		e.Reason = ReasonTimeout
	}
	if e.Reason != ReasonTimeout && e.Reason != ReasonConfig {
		e.Reason = ReasonNone
	}
	return e
}

// WithConn opens a connection, passes it to fn and closes it once fn
// returns, also on panic.
func WithConn(ctx context.Context, cfg ConnectionConfig, fn func(*Conn) error, opts ...Option) (err error) {
	c, err := Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

// Close releases the session. An active transaction is rolled back and an
// open result set is closed first. A failed rollback is logged and returned,
// the session is released anyway. Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	ctx := context.Background()

	var errs []error
	if c.cursor != nil {
		_ = c.cursor.Close()
	}
	if c.tx != nil && c.tx.state == TxActive {
		if err := c.tx.Rollback(); err != nil {
			c.logError(ctx, err, "cannot rollback transaction on close")
			errs = append(errs, err)
		}
	}
	c.closed = true

	if err := c.sess.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		ce := Classify(err)
		c.logError(ctx, ce, "cannot close database connection")
		return &Error{Kind: ConnectionFailure, Reason: ReasonClosed, Code: ce.Code, Message: ce.Message, Err: err}
	}
	c.logInfo(ctx, "database connection closed",
		"database", c.cfg.String())
	return nil
}

// IsOpen reports whether Close was not called yet.
func (c *Conn) IsOpen() bool {
	return !c.closed
}

// Dialect returns the backend dialect of this connection.
func (c *Conn) Dialect() *Dialect {
	return c.dialect
}

// InTransaction reports whether a transaction scope is active.
func (c *Conn) InTransaction() bool {
	return c.tx != nil && c.tx.state == TxActive
}

// Ping verifies the session is still alive.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.sess.PingContext(ctx); err != nil {
		ce := c.fail(ctx, err)
		if ce.Kind == Unknown {
			ce.Kind = ConnectionFailure
		}
		return ce
	}
	return nil
}

// ServerVersion returns the version string reported by the backend.
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}
	if c.tx != nil {
		return "", statementErr(ReasonScopeActive, "connection is inside a transaction")
	}
	rows, err := c.query(ctx, c.sess, MustBind(c.dialect.versionQuery))
	if err != nil {
		return "", err
	}
	r, err := rows.One()
	if err != nil {
		return "", err
	}
	return r.Get(0).String(), nil
}

// usable returns an error if the connection cannot run a statement.
func (c *Conn) usable() error {
	if c.closed {
		return &Error{Kind: ConnectionFailure, Reason: ReasonClosed, Message: "connection is closed"}
	}
	if c.cursor != nil {
		return statementErr(ReasonCursorOpen, "previous result set is still open")
	}
	return nil
}

// fail classifies an execution error. A statement interrupted by the
// context is always reported as a timeout, whatever the driver said.
func (c *Conn) fail(ctx context.Context, err error) *Error {
	ce := Classify(err)
	if ctx.Err() != nil && ce.Kind != ConnectionFailure {
		ce = &Error{Kind: StatementError, Reason: ReasonTimeout, Code: ce.Code, Message: ce.Message, Err: err}
	}
	if ce.Kind == Unknown {
		c.logError(ctx, err, "unclassified database error",
			"code", ce.Code,
			"driver", c.dialect.name)
	}
	return ce
}

// log returns the logger for a call made with given context. An explicit
// WithLogger option wins over the context.
func (c *Conn) log(ctx context.Context) surf.Logger {
	if c.logger != nil {
		return c.logger
	}
	if l, ok := surf.CurrentLogger(ctx); ok {
		return l
	}
	if c.openLogger != nil {
		return c.openLogger
	}
	return surf.Discard()
}

func (c *Conn) logInfo(ctx context.Context, message string, keyvals ...string) {
	c.log(ctx).Info(ctx, message, keyvals...)
}

func (c *Conn) logError(ctx context.Context, err error, message string, keyvals ...string) {
	c.log(ctx).Error(ctx, err, message, keyvals...)
}

// discardTx makes sure the session is left without an open transaction
// after a failed commit. Some backends, e.g. SQLite on a deferred foreign
// key violation, keep the transaction open when COMMIT fails. When that
// cannot be cleaned up, the connection is closed.
func (c *Conn) discardTx() {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := c.sess.ExecContext(ctx, "ROLLBACK")
	if err == nil || strings.Contains(err.Error(), "no transaction is active") {
		return
	}
	c.logError(ctx, err, "cannot discard failed transaction, closing connection",
		"database", c.cfg.String())
	_ = c.Close()
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(%s)", c.cfg)
}
