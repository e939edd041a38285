// Package codec implements canonical serialization and parsing of license
// and keypair records: the deterministic byte form that is the input to
// both signing and verification. A single canonicalizing tree walker
// produces that form for every record type the engine handles, rather than
// a custom (Un)MarshalJSON per record.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	lerr "github.com/dominionrnd/crypto-licensing/errors"
)

// value is the generic parsed/authored tree canonical bytes are built from.
// Leaves are nil, bool, json.Number, or string; composites are
// map[string]interface{} (object) and []interface{} (array, order
// preserved).
type value = interface{}

// Canonicalize re-serializes arbitrary well-formed JSON bytes into this
// engine's canonical form: sorted object keys at every level, no
// insignificant whitespace, an all-zero fractional part dropped from number
// literals (so integers carry no trailing ".0"), duplicate keys and trailing
// bytes rejected. Other number literals are re-emitted exactly as written:
// a float spelled in a longer form than its shortest round-trip form (e.g.
// "5.250" or "1e2") is not rewritten.
func Canonicalize(data []byte) ([]byte, error) {
	tree, err := parse(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, tree); err != nil {
		return nil, lerr.CorruptRecordError("encoding canonical bytes: %s", err)
	}
	return buf.Bytes(), nil
}

// parse decodes data into a value tree, rejecting duplicate object keys,
// non-UTF-8 input, and trailing bytes.
func parse(data []byte) (value, error) {
	if !utf8.Valid(data) {
		return nil, lerr.CorruptRecordError("input is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return nil, lerr.CorruptRecordError("%s", err)
	}

	// Reject trailing non-whitespace bytes.
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, lerr.CorruptRecordError("trailing bytes after top-level value")
		}
		return nil, lerr.CorruptRecordError("trailing bytes after top-level value: %s", err)
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return parseValueFromToken(dec, tok)
}

func parseValueFromToken(dec *json.Decoder, tok json.Token) (value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return t, nil
	case json.Number:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected token %#v", tok)
	}
}

func parseObject(dec *json.Decoder) (value, error) {
	obj := make(map[string]value)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %#v", keyTok)
		}
		if _, dup := obj[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func parseArray(dec *json.Decoder) (value, error) {
	var arr []value
	for dec.More() {
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if arr == nil {
		arr = []value{}
	}
	return arr, nil
}

// writeValue serializes v in canonical form: sorted keys, no whitespace.
func writeValue(buf *bytes.Buffer, v value) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeNumberLiteral(buf, string(t))
	case string:
		return writeString(buf, t)
	case []byte:
		return writeString(buf, base64.RawStdEncoding.EncodeToString(t))
	case int:
		buf.WriteString(strconv.Itoa(t))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case float64:
		return writeFloat(buf, t)
	case map[string]value:
		return writeObject(buf, t)
	case []value:
		return writeArray(buf, t)
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func writeNumberLiteral(buf *bytes.Buffer, lit string) error {
	// json.Number's own textual form is already a valid JSON number
	// literal; re-emit it, normalizing away a whole-number fractional part
	// (e.g. "5.0" -> "5") to match this engine's canonical form. Preserving
	// the rest of the original text (rather than round-tripping through
	// float64) is what keeps large integers exact and floats in their
	// shortest round-trip form when the bytes being canonicalized were
	// already canonical.
	if _, err := strconv.ParseFloat(lit, 64); err != nil {
		return fmt.Errorf("invalid number literal %q: %s", lit, err)
	}
	buf.WriteString(stripTrailingDotZero(lit))
	return nil
}

// stripTrailingDotZero drops an all-zero fractional part from a number
// literal, e.g. "5.0" -> "5", "-100.00" -> "-100". Literals with no decimal
// point, an exponent, or a nonzero fractional digit are returned unchanged.
func stripTrailingDotZero(lit string) string {
	dot := strings.IndexByte(lit, '.')
	if dot < 0 || strings.ContainsAny(lit, "eE") {
		return lit
	}
	for _, c := range lit[dot+1:] {
		if c != '0' {
			return lit
		}
	}
	return lit[:dot]
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("codec: %v is not representable in JSON", f)
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]value) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, arr []value) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
