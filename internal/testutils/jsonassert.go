package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// JSONAssertOptions tunes how strictly CLI JSON output is compared.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a readable
// diff on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON differs from expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if h, ok := ja.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	removeIgnoredFields(expected, actual, ja.options.IgnoredFields)
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

func removeIgnoredFields(expected, actual interface{}, fields []string) {
	if len(fields) == 0 {
		return
	}

	switch exp := expected.(type) {
	case map[string]interface{}:
		act, _ := actual.(map[string]interface{})
		for _, f := range fields {
			delete(exp, f)
			delete(act, f)
		}
		for k := range exp {
			removeIgnoredFields(exp[k], act[k], fields)
		}
	case []interface{}:
		act, _ := actual.([]interface{})
		for i := range exp {
			if i < len(act) {
				removeIgnoredFields(exp[i], act[i], fields)
			}
		}
	}
}

// pruneExtraKeys drops keys from actual that expected does not mention.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

// WithIgnoreExtraKeys sets whether keys missing from the expected JSON are ignored
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithIgnoredFields removes volatile fields such as timestamps before comparing
func WithIgnoredFields(fields ...string) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = append(opts.IgnoredFields, fields...)
	}
}
