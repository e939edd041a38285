package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dominionrnd/crypto-licensing/core"
	lerr "github.com/dominionrnd/crypto-licensing/errors"
)

// --- generic object helpers -------------------------------------------------

func asObject(v value) (map[string]value, error) {
	obj, ok := v.(map[string]value)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

// consumer tracks which keys of an object have been read, so decode can
// reject any field it doesn't recognize.
type consumer struct {
	obj  map[string]value
	seen map[string]bool
}

func newConsumer(obj map[string]value) *consumer {
	return &consumer{obj: obj, seen: make(map[string]bool, len(obj))}
}

func (c *consumer) take(key string) (value, bool) {
	v, ok := c.obj[key]
	if ok {
		c.seen[key] = true
	}
	return v, ok
}

func (c *consumer) requireString(key string) (string, error) {
	v, ok := c.take(key)
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

func (c *consumer) optionalString(key string) (string, bool, error) {
	v, ok := c.take(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("field %q is not a string", key)
	}
	return s, true, nil
}

func decodeBytes(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func (c *consumer) requireBytes(key string) ([]byte, error) {
	s, err := c.requireString(key)
	if err != nil {
		return nil, err
	}
	b, err := decodeBytes(s)
	if err != nil {
		return nil, fmt.Errorf("field %q is not valid base64: %s", key, err)
	}
	return b, nil
}

func (c *consumer) requireNumber(key string) (json.Number, error) {
	v, ok := c.take(key)
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", fmt.Errorf("field %q is not a number", key)
	}
	return n, nil
}

func (c *consumer) finish() error {
	var extra []string
	for k := range c.obj {
		if !c.seen[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("unrecognized field(s): %v", extra)
	}
	return nil
}

// --- Author / Client / Timespan ---------------------------------------------

func authorToValue(a core.Author) map[string]value {
	obj := map[string]value{
		"domain":  a.Domain,
		"product": a.Product,
		"service": a.Service,
		"pubkey":  a.Pubkey,
	}
	if a.Name != "" {
		obj["name"] = a.Name
	}
	return obj
}

func valueToAuthor(v value) (core.Author, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.Author{}, fmt.Errorf("author: %s", err)
	}
	c := newConsumer(obj)
	var a core.Author
	if a.Name, _, err = c.optionalString("name"); err != nil {
		return core.Author{}, fmt.Errorf("author.name: %s", err)
	}
	if a.Domain, err = c.requireString("domain"); err != nil {
		return core.Author{}, fmt.Errorf("author.%s", err)
	}
	if a.Product, err = c.requireString("product"); err != nil {
		return core.Author{}, fmt.Errorf("author.%s", err)
	}
	if a.Service, err = c.requireString("service"); err != nil {
		return core.Author{}, fmt.Errorf("author.%s", err)
	}
	if a.Pubkey, err = c.requireBytes("pubkey"); err != nil {
		return core.Author{}, fmt.Errorf("author.%s", err)
	}
	if err := c.finish(); err != nil {
		return core.Author{}, fmt.Errorf("author: %s", err)
	}
	return a, nil
}

func clientToValue(cl core.Client) map[string]value {
	obj := map[string]value{"pubkey": []byte(cl.Pubkey)}
	if cl.Name != "" {
		obj["name"] = cl.Name
	}
	return obj
}

func valueToClient(v value) (core.Client, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.Client{}, fmt.Errorf("client: %s", err)
	}
	c := newConsumer(obj)
	var cl core.Client
	if cl.Name, _, err = c.optionalString("name"); err != nil {
		return core.Client{}, fmt.Errorf("client.name: %s", err)
	}
	if cl.Pubkey, err = c.requireBytes("pubkey"); err != nil {
		return core.Client{}, fmt.Errorf("client.%s", err)
	}
	if err := c.finish(); err != nil {
		return core.Client{}, fmt.Errorf("client: %s", err)
	}
	return cl, nil
}

func timespanToValue(ts core.Timespan) map[string]value {
	return map[string]value{
		"start":  ts.Start,
		"length": json.Number(fmt.Sprintf("%d", ts.Length)),
	}
}

func valueToTimespan(v value) (core.Timespan, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.Timespan{}, fmt.Errorf("timespan: %s", err)
	}
	c := newConsumer(obj)
	var ts core.Timespan
	if ts.Start, err = c.requireString("start"); err != nil {
		return core.Timespan{}, fmt.Errorf("timespan.%s", err)
	}
	n, err := c.requireNumber("length")
	if err != nil {
		return core.Timespan{}, fmt.Errorf("timespan.%s", err)
	}
	length, err := n.Int64()
	if err != nil {
		return core.Timespan{}, fmt.Errorf("timespan.length is not an integer: %s", err)
	}
	ts.Length = length
	if err := c.finish(); err != nil {
		return core.Timespan{}, fmt.Errorf("timespan: %s", err)
	}
	return ts, nil
}

// --- Grant -------------------------------------------------------------------

func grantToValue(g core.Grant) map[string]value {
	return scalarMapToValue(g)
}

func scalarMapToValue(m map[string]interface{}) map[string]value {
	obj := make(map[string]value, len(m))
	for k, v := range m {
		obj[k] = scalarToValue(v)
	}
	return obj
}

func scalarToValue(v interface{}) value {
	switch t := v.(type) {
	case nil, bool, string:
		return t
	case core.Grant:
		return grantToValue(t)
	case map[string]interface{}:
		return scalarMapToValue(t)
	case int:
		return json.Number(fmt.Sprintf("%d", t))
	case int64:
		return json.Number(fmt.Sprintf("%d", t))
	case float64:
		return json.Number(formatGrantFloat(t))
	case json.Number:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatGrantFloat(f float64) string {
	var buf []byte
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	buf = []byte(fmt.Sprintf("%g", f))
	return string(buf)
}

func valueToGrant(v value) (core.Grant, error) {
	obj, err := asObject(v)
	if err != nil {
		return nil, fmt.Errorf("grant: %s", err)
	}
	g := make(core.Grant, len(obj))
	for k, val := range obj {
		scalar, err := valueToScalar(val)
		if err != nil {
			return nil, fmt.Errorf("grant[%q]: %s", k, err)
		}
		g[k] = scalar
	}
	return g, nil
}

func valueToScalar(v value) (interface{}, error) {
	switch t := v.(type) {
	case nil, bool, string, json.Number:
		return t, nil
	case map[string]value:
		sub := make(core.Grant, len(t))
		for k, vv := range t {
			s, err := valueToScalar(vv)
			if err != nil {
				return nil, err
			}
			sub[k] = s
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unsupported grant value type %T", v)
	}
}

// --- License / SignedLicense --------------------------------------------------

func licenseToValue(lic core.License) (map[string]value, error) {
	obj := map[string]value{
		"author": authorToValue(lic.Author),
	}
	grantObj := make(map[string]value, len(lic.Grant))
	for svc, g := range lic.Grant {
		grantObj[svc] = grantToValue(g)
	}
	obj["grant"] = grantObj

	if lic.Client != nil {
		obj["client"] = clientToValue(*lic.Client)
	}
	if len(lic.Dependencies) > 0 {
		deps := make([]value, len(lic.Dependencies))
		for i, d := range lic.Dependencies {
			dv, err := signedLicenseToValue(d)
			if err != nil {
				return nil, fmt.Errorf("dependencies[%d]: %s", i, err)
			}
			deps[i] = dv
		}
		obj["dependencies"] = deps
	}
	if lic.Machine != nil {
		obj["machine"] = *lic.Machine
	}
	if lic.Timespan != nil {
		obj["timespan"] = timespanToValue(*lic.Timespan)
	}
	return obj, nil
}

func valueToLicense(v value) (core.License, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.License{}, fmt.Errorf("license: %s", err)
	}
	c := newConsumer(obj)
	var lic core.License

	authorVal, ok := c.take("author")
	if !ok {
		return core.License{}, fmt.Errorf("license: missing required field \"author\"")
	}
	if lic.Author, err = valueToAuthor(authorVal); err != nil {
		return core.License{}, fmt.Errorf("license.%s", err)
	}

	grantVal, ok := c.take("grant")
	if !ok {
		return core.License{}, fmt.Errorf("license: missing required field \"grant\"")
	}
	grantObj, err := asObject(grantVal)
	if err != nil {
		return core.License{}, fmt.Errorf("license.grant: %s", err)
	}
	lic.Grant = make(map[string]core.Grant, len(grantObj))
	for svc, gv := range grantObj {
		g, err := valueToGrant(gv)
		if err != nil {
			return core.License{}, fmt.Errorf("license.grant[%q]: %s", svc, err)
		}
		lic.Grant[svc] = g
	}

	if clientVal, ok := c.take("client"); ok {
		cl, err := valueToClient(clientVal)
		if err != nil {
			return core.License{}, fmt.Errorf("license.%s", err)
		}
		lic.Client = &cl
	}

	if depsVal, ok := c.take("dependencies"); ok {
		arr, ok := depsVal.([]value)
		if !ok {
			return core.License{}, fmt.Errorf("license.dependencies is not an array")
		}
		lic.Dependencies = make([]core.SignedLicense, len(arr))
		for i, dv := range arr {
			sl, err := valueToSignedLicense(dv)
			if err != nil {
				return core.License{}, fmt.Errorf("license.dependencies[%d]: %s", i, err)
			}
			lic.Dependencies[i] = sl
		}
	}

	if machineVal, ok := c.take("machine"); ok {
		m, ok := machineVal.(string)
		if !ok {
			return core.License{}, fmt.Errorf("license.machine is not a string")
		}
		lic.Machine = &m
	}

	if tsVal, ok := c.take("timespan"); ok {
		ts, err := valueToTimespan(tsVal)
		if err != nil {
			return core.License{}, fmt.Errorf("license.%s", err)
		}
		lic.Timespan = &ts
	}

	if err := c.finish(); err != nil {
		return core.License{}, fmt.Errorf("license: %s", err)
	}
	return lic, nil
}

func signedLicenseToValue(sl core.SignedLicense) (map[string]value, error) {
	licVal, err := licenseToValue(sl.License)
	if err != nil {
		return nil, err
	}
	return map[string]value{
		"license":   licVal,
		"signature": []byte(sl.Signature),
	}, nil
}

func valueToSignedLicense(v value) (core.SignedLicense, error) {
	obj, err := asObject(v)
	if err != nil {
		return core.SignedLicense{}, fmt.Errorf("signed license: %s", err)
	}
	c := newConsumer(obj)
	var sl core.SignedLicense

	licVal, ok := c.take("license")
	if !ok {
		return core.SignedLicense{}, fmt.Errorf("signed license: missing required field \"license\"")
	}
	if sl.License, err = valueToLicense(licVal); err != nil {
		return core.SignedLicense{}, err
	}
	if sl.Signature, err = c.requireBytes("signature"); err != nil {
		return core.SignedLicense{}, fmt.Errorf("signed license.%s", err)
	}
	if err := c.finish(); err != nil {
		return core.SignedLicense{}, fmt.Errorf("signed license: %s", err)
	}
	return sl, nil
}

// --- public entrypoints -------------------------------------------------------

// EncodeLicense returns the canonical byte form of an unsigned License. This
// is the input to signing.
func EncodeLicense(lic core.License) ([]byte, error) {
	tree, err := licenseToValue(lic)
	if err != nil {
		return nil, lerr.CorruptRecordError("encoding license: %s", err)
	}
	return marshalTree(tree)
}

// DecodeLicense parses canonical license bytes into a License.
func DecodeLicense(data []byte) (core.License, error) {
	tree, err := parse(data)
	if err != nil {
		return core.License{}, err
	}
	lic, err := valueToLicense(tree)
	if err != nil {
		return core.License{}, lerr.CorruptRecordError("%s", err)
	}
	return lic, nil
}

// EncodeSignedLicense returns the canonical byte form of a SignedLicense.
func EncodeSignedLicense(sl core.SignedLicense) ([]byte, error) {
	tree, err := signedLicenseToValue(sl)
	if err != nil {
		return nil, lerr.CorruptRecordError("encoding signed license: %s", err)
	}
	return marshalTree(tree)
}

// DecodeSignedLicense parses canonical signed-license bytes (a
// *.crypto-license file) into a SignedLicense, including its embedded
// dependency tree.
func DecodeSignedLicense(data []byte) (core.SignedLicense, error) {
	tree, err := parse(data)
	if err != nil {
		return core.SignedLicense{}, err
	}
	sl, err := valueToSignedLicense(tree)
	if err != nil {
		return core.SignedLicense{}, lerr.CorruptRecordError("%s", err)
	}
	return sl, nil
}

// marshalTree serializes a natively-built value tree (object/array nesting
// of strings, json.Number, bool, nil, and []byte leaves) into canonical
// bytes: sorted keys, no whitespace, base64-without-padding for binary
// leaves.
func marshalTree(tree value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, tree); err != nil {
		return nil, lerr.CorruptRecordError("encoding canonical bytes: %s", err)
	}
	return buf.Bytes(), nil
}
