package validate

import (
	"errors"
	"testing"

	"github.com/danmuck/binform/internal/testutil/testlog"
)

func expectMismatch(t *testing.T, err error) *MismatchError {
	t.Helper()
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	return m
}

func TestCompareIdentical(t *testing.T) {
	testlog.Start(t)
	if err := Compare([]byte{1, 2, 3}, []byte{1, 2, 3}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := Compare(nil, []byte{}); err != nil {
		t.Fatalf("expected empty buffers to match, got %v", err)
	}
}

func TestCompareFirstDifference(t *testing.T) {
	testlog.Start(t)
	m := expectMismatch(t, Compare([]byte{1, 2, 3, 4}, []byte{1, 9, 3, 8}))
	if m.Offset != 1 || m.Expected != 2 || m.Actual != 9 {
		t.Fatalf("expected offset 1 (2 vs 9), got %+v", m)
	}
	m = expectMismatch(t, CompareFrom([]byte{1, 2, 3, 4}, []byte{1, 9, 3, 8}, 2))
	if m.Offset != 3 || m.Expected != 4 || m.Actual != 8 {
		t.Fatalf("expected offset 3 after window, got %+v", m)
	}
}

func TestCompareLengthDifference(t *testing.T) {
	testlog.Start(t)
	m := expectMismatch(t, Compare([]byte{1, 2}, []byte{1, 2, 3}))
	if m.Offset != 2 || m.Expected != EOF || m.Actual != 3 {
		t.Fatalf("expected EOF vs 3 at offset 2, got %+v", m)
	}
	m = expectMismatch(t, Compare([]byte{1, 2, 3}, []byte{1}))
	if m.Offset != 1 || m.Expected != 2 || m.Actual != EOF {
		t.Fatalf("expected 2 vs EOF at offset 1, got %+v", m)
	}
	if got := m.Error(); got != "validate: mismatch at offset 1: expected 0x02, got EOF" {
		t.Fatalf("unexpected message %q", got)
	}
	if err := CompareFrom([]byte{1, 2, 3}, []byte{1}, 5); err != nil {
		t.Fatalf("expected window past both ends to pass, got %v", err)
	}
}
