package limiter

import "errors"

var (
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrStoreUnavailable wraps every failure to reach or use the bucket store,
	// including timeouts and malformed script replies.
	ErrStoreUnavailable = errors.New("bucket store unavailable")
	ErrMalformedReply   = errors.New("malformed script reply")
)
