package testutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls so asserter failures can be inspected.
type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, format)
}

func TestTextAsserterMatchPasses(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserterWithInterface(rec)

	ta.Assert("line one\nline two", "line one\nline two")
	assert.Empty(t, rec.failures)
}

func TestTextAsserterMismatchReportsDiff(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserterWithInterface(rec)

	ta.Assert("actual text", "expected text")
	assert.Len(t, rec.failures, 1, "mismatch MUST report exactly one failure")
}

func TestTextAsserterNormalization(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserterWithInterface(rec).WithOptions(
		WithIgnoreLeadingWhitespace(true),
		WithIgnoreTrailingWhitespace(true),
		WithIgnoreEmptyLines(true),
	)

	ta.Assert("  a  \n\n  b\t", "a\nb")
	assert.Empty(t, rec.failures, "normalized texts MUST compare equal")
}

func TestTextAsserterTrimSpace(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserterWithInterface(rec).WithOptions(WithTrimSpace(true))

	ta.Assert("\n\na\nb\n\n", "a\nb")
	assert.Empty(t, rec.failures)
}

func TestTextAsserterDiffShape(t *testing.T) {
	ta := NewTextAsserterWithInterface(&recordingT{})

	diff := ta.diff("a\nB\nc", "a\nb\nc")
	assert.True(t, strings.Contains(diff, "-b"), "diff MUST mark the expected line as removed")
	assert.True(t, strings.Contains(diff, "+B"), "diff MUST mark the actual line as added")
}
