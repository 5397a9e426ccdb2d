package errs

// General error codes.
const (
	ServerInternalError = 500  // server internal error
	ArgsError           = 1001 // invalid input arguments
	NoPermissionError   = 1002 // insufficient permission
	RecordNotFoundError = 1004 // record does not exist

	TokenExpiredError = 1501
	TokenInvalidError = 1503

	// Sync engine codes.
	PayloadTooLargeError        = 2101 // content exceeds the allowed size
	UnsupportedContentTypeError = 2102 // device does not accept this content type
	QuotaExceededError          = 2103 // per-user live item quota reached
	TransientStorageError       = 2104 // storage temporarily unavailable, retryable
	SessionClosedError          = 2105 // push delivery target session is gone
	DuplicateSessionError       = 2106 // a newer session superseded this one
)
