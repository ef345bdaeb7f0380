package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidSymbol        ErrorCode = 102
	ErrCodeInvalidQuantity      ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104

	// Ticker errors (200-299)
	ErrCodeTickerFetchFailed ErrorCode = 200
	ErrCodeTickerParseFailed ErrorCode = 201
	ErrCodeNoPairsRequested  ErrorCode = 202

	// Stream errors (300-399)
	ErrCodeStreamDialFailed    ErrorCode = 300
	ErrCodeStreamClosed        ErrorCode = 301
	ErrCodeStreamWriteFailed   ErrorCode = 302
	ErrCodeStreamMalformedTick ErrorCode = 303

	// Storage errors (400-499)
	ErrCodeSnapshotLoadFailed ErrorCode = 400
	ErrCodeSnapshotSaveFailed ErrorCode = 401

	// Portfolio errors (500-599)
	ErrCodeAssetNotFound ErrorCode = 500
)
