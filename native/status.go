package native

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomyedwab/fbdriver/dberr"
)

// Status vector argument kinds.
const (
	ArgEnd         = 0
	ArgGDS         = 1
	ArgString      = 2
	ArgCString     = 3
	ArgNumber      = 4
	ArgInterpreted = 5
	ArgWarning     = 18
	ArgSQLState    = 19
)

// StatusVector is the out-parameter every native call fills. Vector holds
// kind/value clusters terminated by ArgEnd; string arguments are stored in
// Strings and referenced by index from the vector.
type StatusVector struct {
	Vector  []int64
	Strings []string
}

// OK is the status of a successful call.
func OK() StatusVector {
	return StatusVector{Vector: []int64{ArgGDS, 0, ArgEnd}}
}

// NewStatus builds a failing status with one error code and its arguments.
// String arguments become ArgString entries, integers ArgNumber entries.
func NewStatus(code int64, args ...any) StatusVector {
	var sv StatusVector
	return sv.Append(code, args...)
}

// Append adds another error code cluster and returns the extended vector.
func (sv StatusVector) Append(code int64, args ...any) StatusVector {
	vec := make([]int64, 0, len(sv.Vector)+2+2*len(args))
	if n := len(sv.Vector); n > 0 && sv.Vector[n-1] == ArgEnd && sv.Failed() {
		vec = append(vec, sv.Vector[:n-1]...)
	}
	strs := append([]string(nil), sv.Strings...)
	vec = append(vec, ArgGDS, code)
	for _, a := range args {
		switch v := a.(type) {
		case string:
			vec = append(vec, ArgString, int64(len(strs)))
			strs = append(strs, v)
		case int:
			vec = append(vec, ArgNumber, int64(v))
		case int32:
			vec = append(vec, ArgNumber, int64(v))
		case int64:
			vec = append(vec, ArgNumber, v)
		default:
			vec = append(vec, ArgString, int64(len(strs)))
			strs = append(strs, fmt.Sprint(v))
		}
	}
	vec = append(vec, ArgEnd)
	return StatusVector{Vector: vec, Strings: strs}
}

// Failed reports whether the vector signals an error.
func (sv StatusVector) Failed() bool {
	return len(sv.Vector) > 1 && sv.Vector[0] == ArgGDS && sv.Vector[1] > 0
}

// Code returns the first error code, or zero.
func (sv StatusVector) Code() int64 {
	if sv.Failed() {
		return sv.Vector[1]
	}
	return 0
}

// GDSCodes lists every error code in the vector in order.
func (sv StatusVector) GDSCodes() []int64 {
	var codes []int64
	c := NewStatusCursor(sv)
	for {
		code, _, ok := c.Next()
		if !ok {
			return codes
		}
		codes = append(codes, code)
	}
}

// StatusCursor walks a status vector one error cluster at a time.
type StatusCursor struct {
	sv  StatusVector
	pos int
}

// NewStatusCursor positions a cursor at the start of sv.
func NewStatusCursor(sv StatusVector) *StatusCursor {
	return &StatusCursor{sv: sv}
}

// Next returns the next error code and its arguments. Arguments are strings
// for ArgString/ArgCString entries and int64 for ArgNumber entries.
func (c *StatusCursor) Next() (code int64, args []any, ok bool) {
	vec := c.sv.Vector
	for c.pos+1 < len(vec) {
		kind := vec[c.pos]
		if kind == ArgEnd {
			return 0, nil, false
		}
		val := vec[c.pos+1]
		c.pos += 2
		if kind != ArgGDS || val == 0 {
			continue
		}
		code = val
		for c.pos+1 < len(vec) {
			switch vec[c.pos] {
			case ArgString, ArgCString, ArgInterpreted, ArgSQLState:
				idx := int(vec[c.pos+1])
				if idx >= 0 && idx < len(c.sv.Strings) {
					args = append(args, c.sv.Strings[idx])
				} else {
					args = append(args, "")
				}
			case ArgNumber:
				args = append(args, vec[c.pos+1])
			default:
				return code, args, true
			}
			c.pos += 2
		}
		return code, args, true
	}
	return 0, nil, false
}

// FormatMessage substitutes @1..@n in template with args.
func FormatMessage(template string, args []any) string {
	if len(args) == 0 {
		return template
	}
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		ch := template[i]
		if ch == '@' && i+1 < len(template) && template[i+1] >= '1' && template[i+1] <= '9' {
			n := int(template[i+1] - '0')
			if n <= len(args) {
				switch a := args[n-1].(type) {
				case string:
					b.WriteString(a)
				case int64:
					b.WriteString(strconv.FormatInt(a, 10))
				}
				i++
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// StatusError translates a failing status vector into an operational error.
// Every fragment Interpret yields is appended to preamble on its own line.
func StatusError(api API, sv StatusVector, preamble string) error {
	if !sv.Failed() {
		return nil
	}
	var b strings.Builder
	b.WriteString(preamble)
	c := NewStatusCursor(sv)
	for {
		msg, ok := api.Interpret(c)
		if !ok {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(msg)
	}
	return dberr.NewOperationalError(b.String(), api.SQLCode(sv), sv.GDSCodes())
}
