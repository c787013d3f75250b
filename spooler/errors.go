package spooler

import "errors"

// Kind is the stable, storable name of an ingestion failure.
type Kind string

const (
	KindNone                  Kind = ""
	KindMalformedInput        Kind = "malformed_input"
	KindMissingRequiredField  Kind = "missing_required_field"
	KindInvalidField          Kind = "invalid_field"
	KindChecksumFailure       Kind = "checksum_failure"
	KindMonetaryInconsistency Kind = "monetary_inconsistency"
	KindDuplicateDocument     Kind = "duplicate_document"
	KindUnsupportedExtension  Kind = "unsupported_extension"
	KindFileTooLarge          Kind = "file_too_large"
	KindReadFailure           Kind = "read_failure"
	KindFileMissing           Kind = "file_missing"
	KindMoveFailure           Kind = "move_failure"
	KindConstraintViolation   Kind = "constraint_violation"
	KindPersistenceFailure    Kind = "persistence_failure"
	KindInputDirectory        Kind = "input_directory"
	KindUnknown               Kind = "unknown"
)

var (
	ErrMalformedInput        = errors.New("malformed input")
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrInvalidField          = errors.New("invalid field")
	ErrChecksumFailure       = errors.New("checksum failure")
	ErrMonetaryInconsistency = errors.New("monetary inconsistency")
	ErrDuplicateDocument     = errors.New("duplicate document")
	ErrUnsupportedExtension  = errors.New("unsupported extension")
	ErrFileTooLarge          = errors.New("file too large")
	ErrReadFailure           = errors.New("read failure")
	ErrFileMissing           = errors.New("file missing")
	ErrMoveFailure           = errors.New("move failure")
	ErrConstraintViolation   = errors.New("constraint violation")
	ErrPersistenceFailure    = errors.New("persistence failure")
	ErrInputDirectory        = errors.New("input directory unavailable")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindMalformedInput, ErrMalformedInput},
	{KindMissingRequiredField, ErrMissingRequiredField},
	{KindInvalidField, ErrInvalidField},
	{KindChecksumFailure, ErrChecksumFailure},
	{KindMonetaryInconsistency, ErrMonetaryInconsistency},
	{KindDuplicateDocument, ErrDuplicateDocument},
	{KindUnsupportedExtension, ErrUnsupportedExtension},
	{KindFileTooLarge, ErrFileTooLarge},
	{KindReadFailure, ErrReadFailure},
	{KindFileMissing, ErrFileMissing},
	{KindMoveFailure, ErrMoveFailure},
	{KindConstraintViolation, ErrConstraintViolation},
	{KindPersistenceFailure, ErrPersistenceFailure},
	{KindInputDirectory, ErrInputDirectory},
}

// KindOf reports the taxonomy kind of err, or KindUnknown when err wraps
// none of the package sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

func sentinelFor(kind Kind) error {
	for _, ks := range kindSentinels {
		if ks.kind == kind {
			return ks.err
		}
	}
	return nil
}

// IsFatal reports whether err must abort the whole batch rather than just
// the file being processed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPersistenceFailure) || errors.Is(err, ErrInputDirectory)
}
