package validate

import "fmt"

// EOF marks a byte position past the end of the shorter buffer.
const EOF = -1

// MismatchError is the first offset at which two buffers differ. Expected or
// Actual is EOF when that buffer ended first.
type MismatchError struct {
	Offset   int
	Expected int
	Actual   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("validate: mismatch at offset %d: expected %s, got %s", e.Offset, show(e.Expected), show(e.Actual))
}

func show(b int) string {
	if b == EOF {
		return "EOF"
	}
	return fmt.Sprintf("0x%02x", b)
}

// Compare reports the first differing offset of expected and actual, or nil
// when they are identical.
func Compare(expected, actual []byte) error {
	return CompareFrom(expected, actual, 0)
}

// CompareFrom scans from offset from onward, so a caller can step past a
// known divergence.
func CompareFrom(expected, actual []byte, from int) error {
	if from < 0 {
		from = 0
	}
	n := min(len(expected), len(actual))
	for i := from; i < n; i++ {
		if expected[i] != actual[i] {
			return &MismatchError{Offset: i, Expected: int(expected[i]), Actual: int(actual[i])}
		}
	}
	if len(expected) == len(actual) {
		return nil
	}
	off := max(n, from)
	if off >= max(len(expected), len(actual)) {
		return nil
	}
	m := &MismatchError{Offset: off, Expected: EOF, Actual: EOF}
	if off < len(expected) {
		m.Expected = int(expected[off])
	}
	if off < len(actual) {
		m.Actual = int(actual[off])
	}
	return m
}
