package sqldb

import (
	"database/sql/driver"
	"sort"
	"strconv"
	"strings"
)

// Named carries values for a template using :name placeholders.
type Named map[string]interface{}

// StatementKind tells whether executing a statement yields rows or a
// mutation summary.
type StatementKind int

const (
	ReadStatement StatementKind = iota + 1
	WriteStatement
)

func (k StatementKind) String() string {
	switch k {
	case ReadStatement:
		return "read"
	case WriteStatement:
		return "write"
	default:
		return "invalid"
	}
}

// Param describes a single bound value.
type Param struct {
	// Name is empty for positional parameters.
	Name  string
	Kind  ValueKind
	Value driver.Value
}

// Stmt is a SQL template together with its parameter values. Values are
// never merged into the SQL text; the driver sends them separately at
// execution time. Stmt is immutable and safe to share between goroutines.
type Stmt struct {
	template string
	parts    []part
	params   []Param
	kind     StatementKind
	insert   bool
	tuples   int
	idColumn string
}

// part is either literal SQL text or a reference to params[ref].
type part struct {
	text string
	ref  int
}

// Bind validates template against given values and returns a ready to
// execute statement.
//
// Templates use either positional (?) or named (:name) placeholders, never
// both. Named placeholders require a single Named argument. Every
// placeholder must have a value and every value must be used; any mismatch
// fails with a StatementError of ReasonMalformedBinding.
func Bind(template string, args ...interface{}) (*Stmt, error) {
	lx, err := lexTemplate(template)
	if err != nil {
		return nil, err
	}
	if lx.positional > 0 && len(lx.names) > 0 {
		return nil, bindingErr("template mixes positional and named placeholders")
	}

	st := &Stmt{
		template: template,
		parts:    lx.parts,
	}
	st.kind, st.insert, st.tuples, err = analyze(lx.tokens)
	if err != nil {
		return nil, err
	}

	named, isNamed := namedArgs(args)
	switch {
	case len(lx.names) > 0:
		if !isNamed {
			return nil, bindingErr("template uses named placeholders, Named values required")
		}
		if st.params, err = bindNamed(lx.names, named); err != nil {
			return nil, err
		}
	case isNamed:
		if lx.positional > 0 {
			return nil, bindingErr("template uses positional placeholders, got Named values")
		}
		if len(named) > 0 {
			return nil, bindingErr("unused named values: %s", strings.Join(sortedKeys(named), ", "))
		}
	default:
		if len(args) != lx.positional {
			return nil, bindingErr("template has %d placeholders, got %d values", lx.positional, len(args))
		}
		st.params = make([]Param, len(args))
		for i, a := range args {
			v, kind, err := normalizeParam(a)
			if err != nil {
				return nil, bindingErr("parameter %d: %s", i+1, err)
			}
			st.params[i] = Param{Kind: kind, Value: v}
		}
	}
	return st, nil
}

// MustBind is like Bind but panics on error. Use it for statements built
// from constants only.
func MustBind(template string, args ...interface{}) *Stmt {
	st, err := Bind(template, args...)
	if err != nil {
		panic("sqldb: " + err.Error())
	}
	return st
}

func namedArgs(args []interface{}) (Named, bool) {
	if len(args) != 1 {
		return nil, false
	}
	n, ok := args[0].(Named)
	return n, ok
}

func bindNamed(names []string, values Named) ([]Param, error) {
	params := make([]Param, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		raw, ok := values[name]
		if !ok {
			return nil, bindingErr("missing value for :%s", name)
		}
		v, kind, err := normalizeParam(raw)
		if err != nil {
			return nil, bindingErr("parameter :%s: %s", name, err)
		}
		params[i] = Param{Name: name, Kind: kind, Value: v}
		used[name] = true
	}
	var unused []string
	for _, k := range sortedKeys(values) {
		if !used[k] {
			unused = append(unused, k)
		}
	}
	if len(unused) > 0 {
		return nil, bindingErr("unused named values: %s", strings.Join(unused, ", "))
	}
	return params, nil
}

func sortedKeys(m Named) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the template. Parameter values are never included, so it
// is safe to log.
func (s *Stmt) String() string { return s.template }

func (s *Stmt) Kind() StatementKind { return s.kind }

// Params returns a copy of the bound parameters, in placeholder order.
func (s *Stmt) Params() []Param {
	out := make([]Param, len(s.params))
	for i, p := range s.params {
		if b, ok := p.Value.([]byte); ok {
			p.Value = append([]byte(nil), b...)
		}
		out[i] = p
	}
	return out
}

// WithGeneratedID returns a copy of an INSERT statement that reports the
// value of given identity column. Backends without last-insert-id support
// (PostgreSQL) read it through a RETURNING clause; others ignore the column
// name.
func (s *Stmt) WithGeneratedID(column string) (*Stmt, error) {
	if !s.insert {
		return nil, statementErr(ReasonUnsupported, "generated id requested for a non INSERT statement")
	}
	if s.kind != WriteStatement {
		return nil, statementErr(ReasonUnsupported, "statement already has a RETURNING clause")
	}
	if !isIdentifier(column) {
		return nil, bindingErr("invalid identity column name %q", column)
	}
	cp := *s
	cp.idColumn = column
	return &cp, nil
}

// render produces the driver query text in the placeholder style of given
// dialect, together with the argument list.
func (s *Stmt) render(style placeholderStyle) (string, []interface{}) {
	var (
		b    strings.Builder
		args []interface{}
	)
	// numbered placeholders may reference the same named value many times
	numbered := make(map[int]int)
	for _, p := range s.parts {
		if p.ref < 0 {
			b.WriteString(p.text)
			continue
		}
		switch style {
		case dollarPlaceholders:
			n, ok := numbered[p.ref]
			if !ok {
				args = append(args, s.params[p.ref].Value)
				n = len(args)
				numbered[p.ref] = n
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		default:
			args = append(args, s.params[p.ref].Value)
			b.WriteString("?")
		}
	}
	return b.String(), args
}

type token struct {
	word  string // upper cased word, empty for an opening parenthesis
	depth int
}

type lexed struct {
	parts      []part
	names      []string
	positional int
	tokens     []token
}

// lexTemplate splits template into literal text and placeholders. Quoted
// strings, quoted identifiers, comments and dollar quoted bodies are copied
// verbatim; placeholders inside them are not placeholders.
func lexTemplate(tmpl string) (*lexed, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, bindingErr("empty statement")
	}

	lx := &lexed{}
	nameIdx := make(map[string]int)
	var (
		text  strings.Builder
		depth int
	)
	flush := func() {
		if text.Len() > 0 {
			lx.parts = append(lx.parts, part{text: text.String(), ref: -1})
			text.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			escaped := c == '\'' && isEscapePrefix(tmpl, i)
			end := closingQuote(tmpl, i+1, c, escaped)
			if end < 0 {
				return nil, bindingErr("unterminated quoted text at offset %d", i)
			}
			// MySQL reads a backslash as an escape, PostgreSQL and SQLite
			// do not, so the literal would end in a different place.
			if !escaped && c != '`' && strings.IndexByte(tmpl[i:end], '\\') >= 0 {
				return nil, bindingErr("backslash in quoted text at offset %d, pass the value as a parameter", i)
			}
			text.WriteString(tmpl[i : end+1])
			i = end + 1
		case c == '-' && strings.HasPrefix(tmpl[i:], "--"):
			end := strings.IndexByte(tmpl[i:], '\n')
			if end < 0 {
				end = len(tmpl) - i
			}
			text.WriteString(tmpl[i : i+end])
			i += end
		case c == '/' && strings.HasPrefix(tmpl[i:], "/*"):
			end := strings.Index(tmpl[i+2:], "*/")
			if end < 0 {
				return nil, bindingErr("unterminated comment at offset %d", i)
			}
			text.WriteString(tmpl[i : i+2+end+2])
			i += 2 + end + 2
		case c == '$':
			if i+1 < len(tmpl) && isDigit(tmpl[i+1]) {
				return nil, bindingErr("numbered placeholders are not supported, use ? or :name")
			}
			tag, ok := dollarTag(tmpl, i)
			if !ok {
				text.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(tmpl[i+len(tag):], tag)
			if end < 0 {
				return nil, bindingErr("unterminated dollar quoted text at offset %d", i)
			}
			stop := i + len(tag) + end + len(tag)
			text.WriteString(tmpl[i:stop])
			i = stop
		case c == '?':
			flush()
			lx.parts = append(lx.parts, part{ref: lx.positional})
			lx.positional++
			i++
		case c == ':':
			if i+1 < len(tmpl) && tmpl[i+1] == ':' {
				text.WriteString("::")
				i += 2
				continue
			}
			if i+1 >= len(tmpl) || !isIdentStart(tmpl[i+1]) || (i > 0 && isIdentChar(tmpl[i-1])) {
				text.WriteByte(c)
				i++
				continue
			}
			j := i + 1
			for j < len(tmpl) && isIdentChar(tmpl[j]) {
				j++
			}
			name := tmpl[i+1 : j]
			idx, ok := nameIdx[name]
			if !ok {
				idx = len(lx.names)
				nameIdx[name] = idx
				lx.names = append(lx.names, name)
			}
			flush()
			lx.parts = append(lx.parts, part{ref: idx})
			i = j
		case c == '(':
			lx.tokens = append(lx.tokens, token{depth: depth})
			depth++
			text.WriteByte(c)
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			text.WriteByte(c)
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(tmpl) && isIdentChar(tmpl[j]) {
				j++
			}
			lx.tokens = append(lx.tokens, token{word: strings.ToUpper(tmpl[i:j]), depth: depth})
			text.WriteString(tmpl[i:j])
			i = j
		default:
			text.WriteByte(c)
			i++
		}
	}
	flush()
	return lx, nil
}

// analyze determines statement kind from top level keywords. For INSERT it
// also counts the row tuples following VALUES.
func analyze(tokens []token) (kind StatementKind, insert bool, tuples int, err error) {
	var top []token
	for _, t := range tokens {
		if t.depth == 0 {
			top = append(top, t)
		}
	}

	verb, at := "", -1
	for i, t := range top {
		if t.word != "" {
			verb, at = t.word, i
			break
		}
	}
	if verb == "WITH" {
		// The statement verb is the first top level keyword following the
		// common table expressions. CTE names and modifiers are never one
		// of these unquoted.
		verb = ""
		for i, t := range top[at+1:] {
			if cteVerbs[t.word] {
				verb, at = t.word, at+1+i
				break
			}
		}
		if verb == "" {
			return 0, false, 0, statementErr(ReasonSyntax, "WITH clause is not followed by a statement")
		}
	}
	if at >= 0 {
		top = top[at:]
	}

	returning := false
	for _, t := range top {
		if t.word == "RETURNING" {
			returning = true
		}
	}

	switch verb {
	case "":
		return 0, false, 0, bindingErr("statement has no keyword")
	case "SELECT", "VALUES", "SHOW", "EXPLAIN", "PRAGMA", "DESCRIBE", "DESC", "TABLE":
		return ReadStatement, false, 0, nil
	case "INSERT", "REPLACE":
		insert = true
		tuples = countTuples(top)
	}
	if returning {
		return ReadStatement, insert, tuples, nil
	}
	return WriteStatement, insert, tuples, nil
}

var cteVerbs = map[string]bool{
	"SELECT":  true,
	"VALUES":  true,
	"TABLE":   true,
	"INSERT":  true,
	"REPLACE": true,
	"UPDATE":  true,
	"DELETE":  true,
	"MERGE":   true,
}

func countTuples(top []token) int {
	n := 0
	inValues := false
	for _, t := range top {
		switch {
		case t.word == "VALUES":
			inValues = true
		case t.word == "SELECT" && !inValues:
			return 0
		case t.word != "" && inValues:
			// ON CONFLICT, ON DUPLICATE KEY, RETURNING
			return n
		case t.word == "" && inValues:
			n++
		}
	}
	return n
}

func closingQuote(s string, from int, q byte, escaped bool) int {
	for i := from; i < len(s); i++ {
		if escaped && s[i] == '\\' {
			i++
			continue
		}
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

// isEscapePrefix reports whether the quote at given offset opens a
// PostgreSQL E'...' string.
func isEscapePrefix(s string, quote int) bool {
	if quote == 0 || s[quote-1]|0x20 != 'e' {
		return false
	}
	return quote == 1 || !isIdentChar(s[quote-2])
}

func dollarTag(s string, at int) (string, bool) {
	j := at + 1
	for j < len(s) && isIdentChar(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return "", false
	}
	if j > at+1 && !isIdentStart(s[at+1]) {
		return "", false
	}
	return s[at : j+1], true
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20) >= 'a' && (c|0x20) <= 'z' }
func isIdentChar(c byte) bool  { return isIdentStart(c) || isDigit(c) }
