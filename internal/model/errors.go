package model

import "github.com/rotisserie/eris"

// Error taxonomy. Record-level conditions become skips through SkipFor;
// the rest surface when a stage or run must report the condition as an error.
var (
	ErrClassificationUncertain = eris.New("family classification uncertain")
	ErrOracleUnavailable       = eris.New("extraction oracle unavailable")
	ErrInvalidIdentifier       = eris.New("invalid identifier")
	ErrMissingBrand            = eris.New("missing brand")
	ErrMissingCoreSpec         = eris.New("missing core spec")
	ErrTemplateUnresolved      = eris.New("template unresolved")
	ErrDuplicateWithinBatch    = eris.New("duplicate within batch")
	ErrSchemaNotReady          = eris.New("schema not ready")
	ErrStoreError              = eris.New("store error")
	ErrRunTimeout              = eris.New("run timeout")
	ErrRunCancelled            = eris.New("run cancelled")
	ErrLockContention          = eris.New("run lock contention")
	ErrSourceUnreadable        = eris.New("source unreadable")
	ErrStoreUnreachable        = eris.New("store unreachable")
)

// Retryable reports whether a run-level error may be retried safely.
func Retryable(err error) bool {
	for _, target := range []error{ErrSchemaNotReady, ErrRunTimeout, ErrRunCancelled, ErrLockContention, ErrStoreUnreachable, ErrStoreError} {
		if eris.Is(err, target) {
			return true
		}
	}
	return false
}

var skipReasons = []struct {
	err    error
	reason SkipReason
}{
	{ErrInvalidIdentifier, SkipInvalidIdentifier},
	{ErrMissingBrand, SkipMissingBrand},
	{ErrMissingCoreSpec, SkipMissingCoreSpec},
	{ErrTemplateUnresolved, SkipTemplateUnresolved},
	{ErrDuplicateWithinBatch, SkipDuplicateWithinBatch},
	{ErrSchemaNotReady, SkipSchemaNotReady},
	{ErrStoreError, SkipStoreError},
}

// SkipFor builds the skip entry for a record rejected with err. Errors that
// wrap no record-level sentinel are reported as store errors.
func SkipFor(rec *CandidateRecord, err error) Skip {
	reason := SkipStoreError
	for _, sr := range skipReasons {
		if eris.Is(err, sr.err) {
			reason = sr.reason
			break
		}
	}
	return Skip{Identifier: rec.Identifier, Brand: rec.Brand, Reason: reason, Detail: err.Error()}
}
