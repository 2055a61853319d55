package stream

import "errors"

// Errors returned by Synchronizer operations. Match them with errors.Is;
// ErrFetchFailed, ErrAppendFailed and ErrSubscriptionLost wrap the
// underlying remote error.
var (
	ErrAlreadyStarted   = errors.New("stream: already started")
	ErrNotStarted       = errors.New("stream: not started")
	ErrStopped          = errors.New("stream: stopped")
	ErrEmptyMessage     = errors.New("stream: empty message")
	ErrBusy             = errors.New("stream: backfill in flight or exhausted")
	ErrFetchFailed      = errors.New("stream: fetch failed")
	ErrSubscriptionLost = errors.New("stream: subscription lost")
	ErrAppendFailed     = errors.New("stream: append failed")
	ErrNotSignedIn      = errors.New("stream: not signed in")
)

// IsRetryable reports whether the caller may simply re-issue the operation
// that returned err. ErrSubscriptionLost is not retryable in place: the
// synchronizer has to be stopped and a new one started.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrAppendFailed)
}
