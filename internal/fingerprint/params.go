package fingerprint

import (
	"bytes"
	"sort"
	"strconv"
)

// Params is the canonical form of generator parameters (temperature, seed,
// timeout, ...). Values are typed so that the integer 1 and the string "1"
// hash differently.
type Params map[string]ParamValue

// ParamValue is a typed generator parameter value.
type ParamValue interface {
	canonical() string
}

// Int is an integer-valued generator parameter.
type Int int64

func (v Int) canonical() string { return "i:" + strconv.FormatInt(int64(v), 10) }

// Float is a float-valued generator parameter. Unlike checkpoint identity
// hashing, floats are permitted here: sampling parameters are inherently
// float-valued, and shortest-round-trip formatting keeps the serialization
// deterministic.
type Float float64

func (v Float) canonical() string { return "f:" + strconv.FormatFloat(float64(v), 'g', -1, 64) }

// String is a string-valued generator parameter.
type String string

func (v String) canonical() string { return "s:" + string(v) }

// Bool is a boolean-valued generator parameter.
type Bool bool

func (v Bool) canonical() string { return "b:" + strconv.FormatBool(bool(v)) }

// Canonical serializes the parameter set as sorted, length-prefixed
// key=value pairs. Identical maps always produce identical bytes
// regardless of insertion or iteration order.
func (p Params) Canonical() []byte {
	if len(p) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := p[k].canonical()
		buf.WriteString(strconv.Itoa(len(k)))
		buf.WriteByte('=')
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte('=')
		buf.WriteString(v)
		buf.WriteByte(';')
	}
	return buf.Bytes()
}
