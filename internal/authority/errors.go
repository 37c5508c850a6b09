package authority

import "errors"

// Sentinel errors for the contest authority. Callers branch with errors.Is;
// the HTTP layer maps them to machine-readable codes and back.
var (
	// ErrNameRequired rejects a structurally invalid participant name. It is
	// raised before any state is touched.
	ErrNameRequired = errors.New("participant name required")

	// ErrReclaimRequired is not a failure: an active run already exists for
	// the name and no reclaim code was supplied. No new state is created.
	ErrReclaimRequired = errors.New("reclaim code required")

	// ErrReclaimInvalid means a reclaim code was supplied but does not match
	// the active run for that name.
	ErrReclaimInvalid = errors.New("reclaim code invalid")

	// ErrRateLimited rejects a submission made within the minimum
	// inter-submission interval. The rejected call changes nothing.
	ErrRateLimited = errors.New("rate limited")

	// ErrContestClosed rejects a start while the partition is disabled or
	// before its opening time.
	ErrContestClosed = errors.New("contest closed")

	// ErrRunNotFound means the run id does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished rejects a submission for a run that already has a
	// finish time.
	ErrRunFinished = errors.New("run already finished")

	// ErrNoAnswers rejects a submission with an empty answer batch.
	ErrNoAnswers = errors.New("no answers submitted")

	// ErrAdminForbidden rejects an administrative call with a bad secret.
	ErrAdminForbidden = errors.New("admin secret invalid")

	// ErrUnavailable wraps transport or backend failures. Session state is
	// left unchanged and the caller may retry.
	ErrUnavailable = errors.New("authority unavailable")
)
