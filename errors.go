package mindforge

import "errors"

var (
	// ErrNoDiagram is returned when a model response yields no usable
	// outline. Nothing is saved in that case.
	ErrNoDiagram = errors.New("mindforge: no diagram produced")

	// ErrEmptyTopic is returned when a mindmap is requested without a topic.
	ErrEmptyTopic = errors.New("mindforge: topic is required")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("mindforge: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("mindforge: parsing failed")

	// ErrLLMRequestFailed is returned when an LLM request fails.
	ErrLLMRequestFailed = errors.New("mindforge: LLM request failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("mindforge: invalid configuration")

	// ErrVisionRequired is returned for OCR or image documents when no
	// vision provider is configured.
	ErrVisionRequired = errors.New("mindforge: vision provider required")

	// ErrSearchUnavailable is returned by semantic search when no embedding
	// provider is configured.
	ErrSearchUnavailable = errors.New("mindforge: embedding provider required for search")

	// ErrTranscriptionUnavailable is returned when no AssemblyAI key is
	// configured.
	ErrTranscriptionUnavailable = errors.New("mindforge: transcription not configured")
)
