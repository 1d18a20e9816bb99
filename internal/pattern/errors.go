package pattern

import "errors"

var (
	ErrTruncated         = errors.New("pattern: truncated data")
	ErrMagicMismatch     = errors.New("pattern: magic mismatch")
	ErrChecksumMismatch  = errors.New("pattern: checksum mismatch")
	ErrMissingTerminator = errors.New("pattern: missing terminator")
	ErrOutOfRange        = errors.New("pattern: value out of range")
	ErrUnknownRef        = errors.New("pattern: unknown reference")
	ErrUnsupported       = errors.New("pattern: operation not supported by kind")
	ErrInvalidParams     = errors.New("pattern: invalid params")
	ErrTrailingData      = errors.New("pattern: trailing data")
	ErrLengthMismatch    = errors.New("pattern: length mismatch")
	ErrNoCase            = errors.New("pattern: no matching case")
	ErrNoProgress        = errors.New("pattern: repeated pattern consumed no bytes")
	ErrLimit             = errors.New("pattern: limit exceeded")
	ErrValueType         = errors.New("pattern: value type mismatch")
	ErrUnknownKind       = errors.New("pattern: unknown kind")
	ErrKindExists        = errors.New("pattern: kind already registered")
	ErrKindNil           = errors.New("pattern: kind is nil")
	ErrInvalidTag        = errors.New("pattern: invalid kind tag")
)
