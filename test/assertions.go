// Package test provides small assertion helpers shared by the engine's
// _test.go files, in place of a third-party assertion library.
package test

import (
	"bytes"
	"reflect"
	"testing"
)

// Assert fails the test with msg if ok is false.
func Assert(t *testing.T, ok bool, msg string) {
	t.Helper()
	if !ok {
		t.Fatal(msg)
	}
}

// AssertNotError fails the test if err is non-nil.
func AssertNotError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got none", msg)
	}
}

// AssertEquals fails the test if one != two.
func AssertEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if one != two {
		t.Fatalf("%#v != %#v", one, two)
	}
}

// AssertDeepEquals fails the test if one and two are not deeply equal.
func AssertDeepEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if !reflect.DeepEqual(one, two) {
		t.Fatalf("%#v !(deep)= %#v", one, two)
	}
}

// AssertByteEquals fails the test if one and two differ.
func AssertByteEquals(t *testing.T, one, two []byte) {
	t.Helper()
	if !bytes.Equal(one, two) {
		t.Fatalf("byte slices differ:\n%x\n%x", one, two)
	}
}
