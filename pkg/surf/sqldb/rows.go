package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Column describes a single result column.
type Column struct {
	Name string

	// DatabaseType is the type name reported by the backend. It is empty
	// for expressions without a declared type.
	DatabaseType string

	// Kind is the kind every non NULL value of this column decodes to.
	// KindNull means the kind is taken from each value at run time.
	Kind ValueKind
}

type columnSet struct {
	cols   []Column
	byName map[string]int
}

// Row is a single decoded result row. Values are addressed either by
// position or by column name and both always agree.
type Row struct {
	set    *columnSet
	values []Value
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Get returns the value of the i-th column. It panics if i is out of range,
// just like indexing a slice.
func (r Row) Get(i int) Value {
	return r.values[i]
}

// Lookup returns the value of the column with given name. When several
// columns share a name, the first one is returned.
func (r Row) Lookup(name string) (Value, bool) {
	if r.set == nil {
		return Value{}, false
	}
	i, ok := r.set.byName[name]
	if !ok {
		return Value{}, false
	}
	return r.values[i], true
}

// Columns returns the description of all columns, in result order.
func (r Row) Columns() []Column {
	if r.set == nil {
		return nil
	}
	return append([]Column(nil), r.set.cols...)
}

// Rows is a single pass cursor over a result set. While it is open, the
// owning connection cannot execute other statements. Always close it.
type Rows struct {
	ctx    context.Context
	conn   *Conn
	rows   *sql.Rows
	cancel context.CancelFunc
	set    *columnSet

	cur    Row
	err    error
	closed bool
}

func newRows(ctx context.Context, c *Conn, rows *sql.Rows, cancel context.CancelFunc) (*Rows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, c.fail(ctx, err)
	}

	set := &columnSet{
		cols:   make([]Column, len(types)),
		byName: make(map[string]int, len(types)),
	}
	for i, t := range types {
		dbType := t.DatabaseTypeName()
		set.cols[i] = Column{
			Name:         t.Name(),
			DatabaseType: dbType,
			Kind:         declaredKind(c.dialect, dbType),
		}
		if _, ok := set.byName[t.Name()]; !ok {
			set.byName[t.Name()] = i
		}
	}
	return &Rows{
		ctx:    ctx,
		conn:   c,
		rows:   rows,
		cancel: cancel,
		set:    set,
	}, nil
}

// Columns returns the description of all result columns.
func (r *Rows) Columns() []Column {
	return append([]Column(nil), r.set.cols...)
}

// Next advances to the next row. It returns false when the result set is
// exhausted or an error occurred; check Err to tell them apart. The result
// set is closed automatically once exhausted.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = r.conn.fail(r.ctx, err)
		}
		r.close()
		return false
	}

	raw := make([]interface{}, len(r.set.cols))
	dest := make([]interface{}, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		r.err = r.conn.fail(r.ctx, err)
		r.close()
		return false
	}

	values := make([]Value, len(raw))
	for i, v := range raw {
		val, err := decodeValue(r.set.cols[i], v)
		if err != nil {
			r.err = err
			r.close()
			return false
		}
		values[i] = val
	}
	r.cur = Row{set: r.set, values: values}
	return true
}

// Row returns the current row.
func (r *Rows) Row() Row {
	return r.cur
}

// Err returns the error, if any, that stopped the iteration.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the result set and the connection it blocks. It is safe
// to call Close many times.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	return r.close()
}

func (r *Rows) close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	r.cancel()
	if r.conn.cursor == r {
		r.conn.cursor = nil
	}
	if err != nil {
		return r.conn.fail(r.ctx, err)
	}
	return nil
}

// All reads all remaining rows and closes the result set.
func (r *Rows) All() ([]Row, error) {
	defer r.Close()

	var out []Row
	for r.Next() {
		out = append(out, r.cur)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// One returns the first row and closes the result set. ErrNotFound is
// returned for an empty result.
func (r *Rows) One() (Row, error) {
	defer r.Close()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return Row{}, err
		}
		return Row{}, ErrNotFound
	}
	return r.cur, nil
}

// declaredKind maps a backend column type name into a value kind. KindNull
// is returned when the type does not determine the kind.
func declaredKind(d *Dialect, dbType string) ValueKind {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")

	switch t {
	case "":
		return KindNull
	case "BOOL", "BOOLEAN":
		return KindBool
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "SMALLINT", "BIGINT",
		"TINYINT", "MEDIUMINT", "SERIAL", "BIGSERIAL", "YEAR":
		return KindInt
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION":
		return KindFloat
	case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME", "CHARACTER",
		"CHARACTER VARYING", "NCHAR", "NVARCHAR", "CLOB", "TINYTEXT",
		"MEDIUMTEXT", "LONGTEXT", "UUID", "JSON", "JSONB", "ENUM", "SET",
		"CITEXT":
		return KindString
	case "BLOB", "BYTEA", "BINARY", "VARBINARY", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return KindBytes
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return KindTime
	case "NUMERIC", "DECIMAL":
		// SQLite stores numeric affinity as integer or real.
		if d == SQLite {
			return KindNull
		}
		// Exact decimals are kept as text instead of losing precision.
		return KindString
	}

	if d != SQLite {
		return KindNull
	}
	// SQLite accepts any type name and derives the column affinity from
	// it. https://www.sqlite.org/datatype3.html#determination_of_column_affinity
	switch {
	case strings.Contains(t, "INT"):
		return KindInt
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return KindString
	case strings.Contains(t, "BLOB"):
		return KindBytes
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return KindFloat
	}
	return KindNull
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// decodeValue converts a raw driver value into the kind declared by the
// column. Values are never coerced across kinds; the only conversions
// accepted are exact textual encodings of the declared kind, as sent by
// text protocols.
func decodeValue(col Column, raw interface{}) (Value, error) {
	if raw == nil {
		return NullValue(), nil
	}
	if col.Kind == KindNull {
		return dynamicValue(col, raw)
	}

	switch col.Kind {
	case KindInt:
		switch x := raw.(type) {
		case int64:
			return IntValue(x), nil
		case uint64:
			if x <= math.MaxInt64 {
				return IntValue(int64(x)), nil
			}
		case []byte:
			if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
				return IntValue(n), nil
			}
		}
	case KindFloat:
		switch x := raw.(type) {
		case float64:
			return FloatValue(x), nil
		case float32:
			return FloatValue(float64(x)), nil
		case []byte:
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return FloatValue(f), nil
			}
		}
	case KindString:
		switch x := raw.(type) {
		case string:
			return StringValue(x), nil
		case []byte:
			return StringValue(string(x)), nil
		}
	case KindBool:
		switch x := raw.(type) {
		case bool:
			return BoolValue(x), nil
		case int64:
			if x == 0 || x == 1 {
				return BoolValue(x == 1), nil
			}
		case []byte:
			if b, err := strconv.ParseBool(string(x)); err == nil {
				return BoolValue(b), nil
			}
		}
	case KindBytes:
		if x, ok := raw.([]byte); ok {
			return BytesValue(x), nil
		}
	case KindTime:
		switch x := raw.(type) {
		case time.Time:
			return TimeValue(x), nil
		case string:
			if t, ok := parseTime(x); ok {
				return TimeValue(t), nil
			}
		case []byte:
			if t, ok := parseTime(string(x)); ok {
				return TimeValue(t), nil
			}
		}
	}
	return Value{}, decodeErr(col, raw)
}

func dynamicValue(col Column, raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case int64:
		return IntValue(x), nil
	case float64:
		return FloatValue(x), nil
	case float32:
		return FloatValue(float64(x)), nil
	case string:
		return StringValue(x), nil
	case []byte:
		return BytesValue(x), nil
	case bool:
		return BoolValue(x), nil
	case time.Time:
		return TimeValue(x), nil
	}
	return Value{}, decodeErr(col, raw)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeErr(col Column, raw interface{}) *Error {
	declared := col.DatabaseType
	if declared == "" {
		declared = "untyped"
	}
	return &Error{
		Kind:    StatementError,
		Reason:  ReasonDecode,
		Message: fmt.Sprintf("column %q declared %s holds %T value", col.Name, declared, raw),
	}
}
