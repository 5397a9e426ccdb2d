package errs

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrNoPermission   = NewCodeError(NoPermissionError, "NoPermissionError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")

	ErrTokenExpired = NewCodeError(TokenExpiredError, "TokenExpiredError")
	ErrTokenInvalid = NewCodeError(TokenInvalidError, "TokenInvalidError")

	ErrPayloadTooLarge        = NewCodeError(PayloadTooLargeError, "PayloadTooLargeError")
	ErrUnsupportedContentType = NewCodeError(UnsupportedContentTypeError, "UnsupportedContentTypeError")
	ErrQuotaExceeded          = NewCodeError(QuotaExceededError, "QuotaExceededError")
	ErrTransientStorage       = NewCodeError(TransientStorageError, "TransientStorageError")
	ErrSessionClosed          = NewCodeError(SessionClosedError, "SessionClosedError")
	ErrDuplicateSession       = NewCodeError(DuplicateSessionError, "DuplicateSessionError")
)
