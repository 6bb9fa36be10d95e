// Copyright 2025 The gomcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package strictjson decodes JSON with stricter validation than
// encoding/json's default, case-insensitive field matching allows.
package strictjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Unmarshal decodes data into v with strict validation:
//   - rejects duplicate keys that differ only in case (e.g. "id" and "Id")
//   - requires JSON field names to match struct tags exactly (case-sensitive)
//   - rejects unknown fields
//
// This matters for a JSON-RPC codec because Go's default unmarshaling is
// case-insensitive: without this, a message could smuggle a field like
// "ID" past a case-sensitive sender-side check while still populating the
// receiver's Id field.
func Unmarshal(data []byte, v any) error {
	if err := validateTopLevel(data, expectedFields(v)); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	return nil
}

// validateTopLevel checks data's top-level object for case-variant keys
// against both itself and expected (v's declared json field names), then
// recurses into every value to catch case-variant keys nested deeper,
// where there is no struct to compare against. If data does not decode as
// an object, there is nothing to check.
func validateTopLevel(data []byte, expected map[string]bool) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	byLower := make(map[string]string, len(obj))
	for key := range obj {
		lower := strings.ToLower(key)
		if prior, dup := byLower[lower]; dup && prior != key {
			return fmt.Errorf("duplicate key with different case: %q and %q", prior, key)
		}
		byLower[lower] = key
		if expected != nil && !expected[key] {
			if exp, ok := caseInsensitiveMatch(expected, lower); ok {
				return fmt.Errorf("field name case mismatch: got %q, expected %q", key, exp)
			}
			// No match at all: DisallowUnknownFields rejects it below.
		}
	}
	for key, val := range obj {
		if err := validateNested(val); err != nil {
			return fmt.Errorf("in field %q: %w", key, err)
		}
	}
	return nil
}

// validateNested checks a JSON value found below the top level for
// case-variant duplicate keys; it has no struct to validate field names
// against, since reflect can't follow into an arbitrary nested json.RawMessage
// without the concrete type the decoder will eventually assign it to.
func validateNested(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		return validateTopLevel(data, nil)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		for i, elem := range arr {
			if err := validateNested(elem); err != nil {
				return fmt.Errorf("in array index %d: %w", i, err)
			}
		}
	}
	return nil
}

func caseInsensitiveMatch(fields map[string]bool, lower string) (string, bool) {
	for field := range fields {
		if strings.ToLower(field) == lower {
			return field, true
		}
	}
	return "", false
}

// expectedFields returns the set of JSON field names a struct's "json"
// tags declare.
func expectedFields(v any) map[string]bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	fields := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			fields[name] = true
		}
	}
	return fields
}
