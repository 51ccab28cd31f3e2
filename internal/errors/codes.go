package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a bad path mapping, project list or config file.
	// Always raised before any stage runs.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeBuild indicates the toolchain exited non-zero.
	ErrCodeBuild ErrorCode = "BUILD_ERROR"
	// ErrCodeAuthentication indicates key decoding or session open failed.
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	// ErrCodeTransfer indicates the artifact upload failed.
	ErrCodeTransfer ErrorCode = "TRANSFER_ERROR"
	// ErrCodeRemoteCommand indicates a remote command exited non-zero.
	ErrCodeRemoteCommand ErrorCode = "REMOTE_COMMAND_ERROR"
	// ErrCodeInternal indicates a programming or environment error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)
