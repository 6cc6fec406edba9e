package messaging

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// object reads typed fields out of untyped wire JSON. The first failure is
// kept and every later read returns a zero value, so decoders can read all
// fields unconditionally and check Err once.
type object struct {
	event string
	path  string
	m     map[string]any
	err   *ValidationError
}

func newObject(event, path string, m map[string]any) *object {
	return &object{event: event, path: path, m: m, err: new(ValidationError)}
}

func (o *object) child(path string, m map[string]any) *object {
	return &object{event: o.event, path: path, m: m, err: o.err}
}

func (o *object) fieldPath(field string) string {
	if o.path == "" {
		return field
	}
	return o.path + "." + field
}

func (o *object) failed() bool { return o.err.Reason != "" }

func (o *object) fail(field, reason string) {
	if o.failed() {
		return
	}
	o.err.EventName = o.event
	o.err.Field = o.fieldPath(field)
	o.err.Reason = reason
}

// Err returns the first validation failure, if any.
func (o *object) Err() error {
	if !o.failed() {
		return nil
	}
	return o.err
}

// lookup returns the raw value and whether it is present and non-null.
func (o *object) lookup(field string, required bool) (any, bool) {
	if o.failed() {
		return nil, false
	}
	v, ok := o.m[field]
	if !ok || v == nil {
		if required {
			o.fail(field, "required field is missing")
		}
		return nil, false
	}
	return v, true
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (o *object) int64(field string, required bool) int64 {
	v, ok := o.lookup(field, required)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			o.fail(field, "expected integer, got "+n.String())
			return 0
		}
		return i
	case float64:
		if n != math.Trunc(n) {
			o.fail(field, fmt.Sprintf("expected integer, got %v", n))
			return 0
		}
		return int64(n)
	}
	o.fail(field, "expected number, got "+typeName(v))
	return 0
}

func (o *object) Int64(field string) int64    { return o.int64(field, true) }
func (o *object) OptInt64(field string) int64 { return o.int64(field, false) }
func (o *object) Int(field string) int        { return int(o.int64(field, true)) }
func (o *object) OptInt(field string) int     { return int(o.int64(field, false)) }

func (o *object) float(field string, required bool) float64 {
	v, ok := o.lookup(field, required)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			o.fail(field, "expected number, got "+n.String())
			return 0
		}
		return f
	case float64:
		return n
	}
	o.fail(field, "expected number, got "+typeName(v))
	return 0
}

func (o *object) Float(field string) float64    { return o.float(field, true) }
func (o *object) OptFloat(field string) float64 { return o.float(field, false) }

func (o *object) str(field string, required bool) string {
	v, ok := o.lookup(field, required)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		o.fail(field, "expected string, got "+typeName(v))
		return ""
	}
	return s
}

func (o *object) String(field string) string    { return o.str(field, true) }
func (o *object) OptString(field string) string { return o.str(field, false) }

func (o *object) boolean(field string, required bool) bool {
	v, ok := o.lookup(field, required)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool {
		o.fail(field, "expected boolean, got "+typeName(v))
		return false
	}
	return b
}

func (o *object) Bool(field string) bool    { return o.boolean(field, true) }
func (o *object) OptBool(field string) bool { return o.boolean(field, false) }

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (o *object) time(field string, required bool) (time.Time, bool) {
	v, ok := o.lookup(field, required)
	if !ok {
		return time.Time{}, false
	}
	s, isStr := v.(string)
	if !isStr {
		o.fail(field, "expected date string, got "+typeName(v))
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	o.fail(field, fmt.Sprintf("expected ISO-8601 date, got %q", s))
	return time.Time{}, false
}

func (o *object) Time(field string) time.Time {
	t, _ := o.time(field, true)
	return t
}

func (o *object) OptTime(field string) *time.Time {
	t, ok := o.time(field, false)
	if !ok {
		return nil
	}
	return &t
}

func (o *object) obj(field string, required bool) *object {
	v, ok := o.lookup(field, required)
	if !ok {
		return nil
	}
	m, isObj := v.(map[string]any)
	if !isObj {
		o.fail(field, "expected object, got "+typeName(v))
		return nil
	}
	return o.child(o.fieldPath(field), m)
}

func (o *object) Object(field string) *object    { return o.obj(field, true) }
func (o *object) OptObject(field string) *object { return o.obj(field, false) }

// Objects reads an array whose elements must all be objects.
func (o *object) objects(field string, required bool) []*object {
	v, ok := o.lookup(field, required)
	if !ok {
		return nil
	}
	arr, isArr := v.([]any)
	if !isArr {
		o.fail(field, "expected array, got "+typeName(v))
		return nil
	}
	out := make([]*object, 0, len(arr))
	for i, el := range arr {
		m, isObj := el.(map[string]any)
		if !isObj {
			o.fail(fmt.Sprintf("%s[%d]", field, i), "expected object, got "+typeName(el))
			return nil
		}
		out = append(out, o.child(fmt.Sprintf("%s[%d]", o.fieldPath(field), i), m))
	}
	return out
}

func (o *object) Objects(field string) []*object    { return o.objects(field, true) }
func (o *object) OptObjects(field string) []*object { return o.objects(field, false) }
