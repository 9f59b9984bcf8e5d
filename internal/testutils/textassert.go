package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
)

// TestingT is the subset of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAsserter)

// TextAsserter compares rendered CLI output line by line and reports a
// unified diff on mismatch.
type TextAsserter struct {
	t                        TestingT
	trimSpace                bool
	ignoreTrailingWhitespace bool
	enableColors             bool
}

// NewTextAsserter creates a strict TextAsserter.
func NewTextAsserter(t TestingT) *TextAsserter {
	return &TextAsserter{t: t}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(ta)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) {
	if h, ok := ta.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
	}
}

func (ta *TextAsserter) diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.enableColors {
		return unified
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	lines := strings.Split(unified, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(visibleWhitespace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(visibleWhitespace(line))
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.trimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.ignoreTrailingWhitespace {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// visibleWhitespace shows spaces as · and tabs as → so alignment bugs stand out.
func visibleWhitespace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→").Replace(line)
}

// WithTrimSpace trims leading and trailing whitespace from the whole text
func WithTrimSpace(trim bool) TextOption {
	return func(ta *TextAsserter) { ta.trimSpace = trim }
}

// WithIgnoreTrailingWhitespace ignores trailing whitespace on each line
func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(ta *TextAsserter) { ta.ignoreTrailingWhitespace = ignore }
}

// WithEnableColors colorizes the diff
func WithEnableColors(enable bool) TextOption {
	return func(ta *TextAsserter) { ta.enableColors = enable }
}
