package sqldb

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"time"
)

// ValueKind is the caller visible type of a parameter or a column value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindBytes
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a single decoded column value. The zero Value is NULL.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Text() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) Bool() (bool, bool)     { return v.i != 0, v.kind == KindBool }
func (v Value) Time() (time.Time, bool) {
	return v.t, v.kind == KindTime
}

// Bytes returns a copy of the binary value.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return append([]byte(nil), v.b...), true
}

// Interface returns the value as one of nil, int64, float64, string, bool,
// []byte or time.Time.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.i != 0
	case KindBytes:
		return append([]byte(nil), v.b...)
	case KindTime:
		return v.t
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprint(v.Interface())
}

func IntValue(n int64) Value      { return Value{kind: KindInt, i: n} }
func FloatValue(f float64) Value  { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value  { return Value{kind: KindString, s: s} }
func BytesValue(b []byte) Value   { return Value{kind: KindBytes, b: append([]byte(nil), b...)} }
func TimeValue(t time.Time) Value { return Value{kind: KindTime, t: t} }
func NullValue() Value            { return Value{} }

func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

var timeType = reflect.TypeOf(time.Time{})

// normalizeParam converts a caller supplied parameter into one of the
// driver.Value types and infers its kind. Values of any other type are
// rejected instead of being formatted into text.
func normalizeParam(v interface{}) (driver.Value, ValueKind, error) {
	if v == nil {
		return nil, KindNull, nil
	}

	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, KindNull, nil
		}
		dv, err := valuer.Value()
		if err != nil {
			return nil, KindNull, fmt.Errorf("valuer %T: %s", v, err)
		}
		if _, isValuer := dv.(driver.Valuer); isValuer {
			return nil, KindNull, fmt.Errorf("valuer %T returned another valuer", v)
		}
		return normalizeParam(dv)
	}

	switch x := v.(type) {
	case string:
		return x, KindString, nil
	case []byte:
		if x == nil {
			return nil, KindNull, nil
		}
		return append([]byte(nil), x...), KindBytes, nil
	case bool:
		return x, KindBool, nil
	case int64:
		return x, KindInt, nil
	case float64:
		return x, KindFloat, nil
	case time.Time:
		return x, KindTime, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, KindNull, nil
		}
		return normalizeParam(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), KindString, nil
	case reflect.Bool:
		return rv.Bool(), KindBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), KindInt, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, KindNull, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return int64(u), KindInt, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), KindFloat, nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return normalizeParam(rv.Bytes())
		}
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return rv.Convert(timeType).Interface(), KindTime, nil
		}
	}
	return nil, KindNull, fmt.Errorf("unsupported parameter type %T", v)
}
