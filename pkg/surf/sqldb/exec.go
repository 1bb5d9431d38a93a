package sqldb

import (
	"context"
	"database/sql"
	"strings"
)

// Result is either a *QueryResult or a *MutationResult, depending on the
// kind of executed statement.
type Result interface {
	Kind() StatementKind
}

// QueryResult holds the rows produced by a read statement.
type QueryResult struct {
	Rows *Rows
}

func (*QueryResult) Kind() StatementKind { return ReadStatement }

// MutationResult summarizes a write statement.
//
// The generated identifier is captured when the statement executes, so it
// always belongs to this statement even if other statements ran on the
// same connection afterwards.
type MutationResult struct {
	affected int64
	id       int64
	idErr    error
}

func (*MutationResult) Kind() StatementKind { return WriteStatement }

// RowsAffected returns the number of rows changed by the statement.
func (r *MutationResult) RowsAffected() int64 { return r.affected }

// ID returns the identifier generated by a single row INSERT. ErrNoID is
// returned when the statement did not generate one. Multi row inserts fail
// with a StatementError of ReasonUnsupported.
func (r *MutationResult) ID() (int64, error) {
	if r.idErr != nil {
		return 0, r.idErr
	}
	return r.id, nil
}

// Execute runs the statement outside of any transaction. Read statements
// return *QueryResult, which must be closed before the connection is used
// again. Write statements return *MutationResult.
func (c *Conn) Execute(ctx context.Context, st *Stmt) (Result, error) {
	if err := c.outsideTx(); err != nil {
		return nil, err
	}
	return c.execute(ctx, c.sess, st)
}

// Query runs a read statement outside of any transaction.
func (c *Conn) Query(ctx context.Context, st *Stmt) (*Rows, error) {
	if err := c.outsideTx(); err != nil {
		return nil, err
	}
	return c.query(ctx, c.sess, st)
}

// Exec runs a write statement outside of any transaction.
func (c *Conn) Exec(ctx context.Context, st *Stmt) (*MutationResult, error) {
	if err := c.outsideTx(); err != nil {
		return nil, err
	}
	return c.exec(ctx, c.sess, st)
}

func (c *Conn) outsideTx() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.tx != nil {
		return statementErr(ReasonScopeActive, "connection is inside a transaction, use it to execute statements")
	}
	return nil
}

func (c *Conn) execute(ctx context.Context, ex executor, st *Stmt) (Result, error) {
	if st == nil {
		return nil, bindingErr("nil statement")
	}
	if st.kind == ReadStatement {
		rows, err := c.query(ctx, ex, st)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Rows: rows}, nil
	}
	return c.exec(ctx, ex, st)
}

// withQueryTimeout applies the configured statement timeout unless the
// caller already set a deadline.
func (c *Conn) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.QueryTimeout)
}

func (c *Conn) query(ctx context.Context, ex executor, st *Stmt) (*Rows, error) {
	if st == nil {
		return nil, bindingErr("nil statement")
	}
	if st.kind != ReadStatement {
		return nil, statementErr(ReasonUnsupported, "%s statement does not return rows", st.kind)
	}

	qctx, cancel := c.withQueryTimeout(ctx)
	query, args := st.render(c.dialect.style)
	rows, err := ex.QueryContext(qctx, query, args...)
	if err != nil {
		ce := c.fail(qctx, err)
		cancel()
		return nil, ce
	}

	r, err := newRows(qctx, c, rows, cancel)
	if err != nil {
		rows.Close()
		cancel()
		return nil, err
	}
	c.cursor = r
	return r, nil
}

func (c *Conn) exec(ctx context.Context, ex executor, st *Stmt) (*MutationResult, error) {
	if st == nil {
		return nil, bindingErr("nil statement")
	}
	if st.kind != WriteStatement {
		return nil, statementErr(ReasonUnsupported, "%s statement does not modify data", st.kind)
	}

	qctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()

	query, args := st.render(c.dialect.style)
	if st.idColumn != "" && !c.dialect.lastInsertID {
		return c.execReturning(qctx, ex, st, query, args)
	}

	res, err := ex.ExecContext(qctx, query, args...)
	if err != nil {
		return nil, c.fail(qctx, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, c.fail(qctx, err)
	}

	mr := &MutationResult{affected: affected}
	if idErr := c.generatedIDApplies(st, affected); idErr != nil {
		mr.idErr = idErr
		return mr, nil
	}
	if !c.dialect.lastInsertID {
		mr.idErr = ErrNoID
		return mr, nil
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		mr.idErr = ErrNoID
		return mr, nil
	}
	mr.id = id
	return mr, nil
}

// returningQuery appends a RETURNING clause to query. The clause starts on
// a new line so that a trailing line comment cannot swallow it.
func returningQuery(query, column string) string {
	return strings.TrimRight(query, " \t\r\n;") + "\nRETURNING " + column
}

// execReturning runs an INSERT with a RETURNING clause for backends that do
// not report generated identifiers otherwise.
func (c *Conn) execReturning(ctx context.Context, ex executor, st *Stmt, query string, args []interface{}) (*MutationResult, error) {
	query = returningQuery(query, st.idColumn)
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	defer rows.Close()

	var (
		affected int64
		first    sql.NullInt64
	)
	for rows.Next() {
		if affected == 0 {
			if err := rows.Scan(&first); err != nil {
				return nil, c.fail(ctx, err)
			}
		}
		affected++
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(ctx, err)
	}
	if err := rows.Close(); err != nil {
		return nil, c.fail(ctx, err)
	}

	mr := &MutationResult{affected: affected}
	if idErr := c.generatedIDApplies(st, affected); idErr != nil {
		mr.idErr = idErr
	} else if !first.Valid {
		mr.idErr = ErrNoID
	} else {
		mr.id = first.Int64
	}
	return mr, nil
}

func (c *Conn) generatedIDApplies(st *Stmt, affected int64) error {
	switch {
	case !st.insert:
		return ErrNoID
	case st.tuples > 1 || affected > 1:
		return statementErr(ReasonUnsupported, "generated id of a multi row insert")
	case affected == 0:
		return ErrNoID
	}
	return nil
}
