package grammar

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed           = errors.New("grammar: malformed description")
	ErrDuplicateName       = errors.New("grammar: duplicate pattern name")
	ErrInvalidName         = errors.New("grammar: invalid name")
	ErrUnresolvedRef       = errors.New("grammar: unresolved reference")
	ErrAmbiguousTerminator = errors.New("grammar: terminator collides with repeated case")
	ErrNotFound            = errors.New("grammar: not found")
)

// GrammarError reports a description that cannot become a Grammar. Pattern
// is the dotted path of the offending spec, empty for document-level faults.
type GrammarError struct {
	Grammar string
	Pattern string
	Reason  string
	Err     error
}

func (e *GrammarError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Pattern == "" {
		return fmt.Sprintf("grammar: name=%s: %s", e.Grammar, msg)
	}
	return fmt.Sprintf("grammar: name=%s pattern=%s: %s", e.Grammar, e.Pattern, msg)
}

func (e *GrammarError) Unwrap() error {
	return e.Err
}
