// Package jsonpath looks up values in JSON response bodies. Paths may be
// written in JSONPath style ($.users[0].name) or gjson style (users.0.name).
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup returns the value at path in body.
func Lookup(body []byte, path string) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, fmt.Errorf("empty JSON body")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("body is not valid JSON")
	}

	result := gjson.GetBytes(body, ToGjson(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return result, nil
}

// Extract returns the value at path as a string. JSON null is "null".
func Extract(body []byte, path string) (string, error) {
	result, err := Lookup(body, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// Equals reports whether the value at path renders as want.
func Equals(body []byte, path, want string) (bool, error) {
	got, err := Extract(body, path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// ToGjson converts a JSONPath expression to a gjson path. gjson paths are
// returned unchanged.
func ToGjson(path string) string {
	if path == "$" {
		return "@this"
	}

	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}
	path = strings.TrimPrefix(path, ".")

	// bracket notation with quotes: ['name'] or ["name"]
	for _, q := range []string{"'", `"`} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// index notation: [0] -> .0
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	return strings.TrimPrefix(path, ".")
}
