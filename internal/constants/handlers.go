package constants

// Handler constants
const (
	// DefaultHandlerPageSize is the page size for listing endpoints
	DefaultHandlerPageSize = 100

	// MaxHandlerPageSize caps the limit a client may request
	MaxHandlerPageSize = 1000
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum image upload size in bytes (20MB)
	MaxUploadSize = 20 << 20
)

// JSON submission limits
const (
	// MaxFloatJSONBytes is the room one encoded float32 may take, separator included
	MaxFloatJSONBytes = 32

	// MaxRecordFieldsBytes covers pool, label, location and the JSON framing
	MaxRecordFieldsBytes = 16 << 10
)
