package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxState is the lifecycle state of a transaction scope.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tx is a transaction scope bound to one connection. Either all statements
// executed within it take effect or none of them does. Once committed or
// rolled back, it cannot be used again.
type Tx struct {
	conn     *Conn
	sess     txSession
	state    TxState
	executed []string
}

// Begin starts a new transaction scope. A connection carries at most one
// active scope; nesting fails with ReasonScopeActive.
//
// The context is used until the transaction is resolved. If it is
// cancelled before that, the transaction is rolled back.
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	return c.BeginTx(ctx, nil)
}

// BeginTx is like Begin but allows to set the isolation level.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.tx != nil {
		return nil, statementErr(ReasonScopeActive, "transaction already in progress")
	}
	sess, err := c.sess.BeginTx(ctx, opts)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	tx := &Tx{conn: c, sess: sess, state: TxActive}
	c.tx = tx
	return tx, nil
}

// State returns the current state of the scope.
func (tx *Tx) State() TxState {
	return tx.state
}

// Statements returns the templates of all statements successfully executed
// within this scope, in order.
func (tx *Tx) Statements() []string {
	return append([]string(nil), tx.executed...)
}

func (tx *Tx) usable() error {
	if tx.state != TxActive {
		return statementErr(ReasonScopeClosed, "transaction already %s", tx.state)
	}
	return tx.conn.usable()
}

// Execute runs the statement inside of the transaction. See Conn.Execute.
func (tx *Tx) Execute(ctx context.Context, st *Stmt) (Result, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	res, err := tx.conn.execute(ctx, tx.sess, st)
	if err != nil {
		return nil, err
	}
	tx.executed = append(tx.executed, st.String())
	return res, nil
}

// Query runs a read statement inside of the transaction.
func (tx *Tx) Query(ctx context.Context, st *Stmt) (*Rows, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	rows, err := tx.conn.query(ctx, tx.sess, st)
	if err != nil {
		return nil, err
	}
	tx.executed = append(tx.executed, st.String())
	return rows, nil
}

// Exec runs a write statement inside of the transaction.
func (tx *Tx) Exec(ctx context.Context, st *Stmt) (*MutationResult, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	res, err := tx.conn.exec(ctx, tx.sess, st)
	if err != nil {
		return nil, err
	}
	tx.executed = append(tx.executed, st.String())
	return res, nil
}

// Commit makes all changes of the scope durable. If the backend refuses the
// commit, the scope ends rolled back and TransactionConflict is returned.
func (tx *Tx) Commit() error {
	if tx.state != TxActive {
		return statementErr(ReasonScopeClosed, "cannot commit, transaction already %s", tx.state)
	}
	tx.release()

	if err := tx.sess.Commit(); err != nil {
		tx.state = TxRolledBack
		// database/sql considers the transaction done even when the
		// backend kept it open.
		tx.conn.discardTx()

		ce := Classify(err)
		if ce.Kind == ConnectionFailure {
			return ce
		}
		return &Error{
			Kind:    TransactionConflict,
			Reason:  ce.Reason,
			Code:    ce.Code,
			Message: "cannot commit: " + ce.Message,
			Err:     err,
		}
	}
	tx.state = TxCommitted
	return nil
}

// Rollback discards all changes of the scope.
func (tx *Tx) Rollback() error {
	if tx.state != TxActive {
		return statementErr(ReasonScopeClosed, "cannot rollback, transaction already %s", tx.state)
	}
	tx.release()
	tx.state = TxRolledBack

	if err := tx.sess.Rollback(); err != nil {
		// A cancelled context already rolled the transaction back.
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return Classify(err)
	}
	return nil
}

// Close rolls the scope back unless it was already resolved. It is meant
// to be deferred right after Begin.
func (tx *Tx) Close() error {
	if tx.state != TxActive {
		return nil
	}
	return tx.Rollback()
}

// release detaches the scope from its connection. An open result set
// would block the commit, so it is closed first.
func (tx *Tx) release() {
	if tx.conn.cursor != nil {
		_ = tx.conn.cursor.Close()
	}
	if tx.conn.tx == tx {
		tx.conn.tx = nil
	}
}

// InTx runs fn within a transaction scope. The scope is committed when fn
// returns nil and rolled back when fn returns an error or panics.
func InTx(ctx context.Context, c *Conn, fn func(*Tx) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if err := tx.Close(); err != nil {
				c.logError(ctx, err, "cannot rollback transaction after panic")
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Close(); rerr != nil {
			c.logError(ctx, rerr, "cannot rollback transaction")
		}
		return err
	}
	if tx.state != TxActive {
		return nil
	}
	return tx.Commit()
}
