package analysis

import "errors"

// Failure classes surfaced in Result when an analysis cannot produce a
// verdict. The first two mean the model answered but the answer is unusable;
// the rest are environmental and clear up without re-prompting.
const (
	ClassInvalidVoteValue  = "invalid-vote-value"
	ClassUnparseableResult = "unparseable-result"
	ClassTransport         = "transport-error"
	ClassNotConfigured     = "service-not-configured"
	ClassInFlight          = "analysis-in-flight"
)

// Invalid model output is never coerced into a vote.
var (
	errUnparseableResult = errors.New(ClassUnparseableResult)
	errInvalidVoteValue  = errors.New(ClassInvalidVoteValue)
	errTransport         = errors.New(ClassTransport)
)

// FailureClass names the bucket an analysis error falls into.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return ClassInFlight
	case errors.Is(err, ErrNotConfigured):
		return ClassNotConfigured
	case errors.Is(err, errInvalidVoteValue):
		return ClassInvalidVoteValue
	case errors.Is(err, errUnparseableResult):
		return ClassUnparseableResult
	default:
		return ClassTransport
	}
}
