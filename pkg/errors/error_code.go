package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidTransactionID ErrorCode = 102
	ErrCodeInvalidInterval      ErrorCode = 103
	ErrCodeInvalidCount         ErrorCode = 104
	ErrCodeInvalidDateRange     ErrorCode = 105

	// Subscription errors (200-299)
	ErrCodeNoStorageRegistry     ErrorCode = 200
	ErrCodeUnsupportedDataType   ErrorCode = 201
	ErrCodeGeneratorConflict     ErrorCode = 202
	ErrCodeSecurityNotFound      ErrorCode = 203
	ErrCodeDuplicateSubscription ErrorCode = 204

	// Storage errors (300-399)
	ErrCodeStorageLoadFailed  ErrorCode = 300
	ErrCodeStorageUnavailable ErrorCode = 301
	ErrCodeQueryFailed        ErrorCode = 302
	ErrCodeDataParseFailed    ErrorCode = 303

	// Replay errors (400-499)
	ErrCodeAlreadyConnected  ErrorCode = 400
	ErrCodeAlreadyStarted    ErrorCode = 401
	ErrCodeNotStarted        ErrorCode = 402
	ErrCodeResetWhileRunning ErrorCode = 403
	ErrCodeReplayFailed      ErrorCode = 404
)
