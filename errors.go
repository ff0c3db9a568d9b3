package research

import "errors"

var (
	// ErrProjectNotFound is returned when a project ID does not exist.
	ErrProjectNotFound = errors.New("research: project not found")

	// ErrConversationNotFound is returned when a conversation ID does not
	// exist or the node is not a Chat node.
	ErrConversationNotFound = errors.New("research: conversation not found")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("research: embedding generation failed")

	// ErrLLMRequestFailed is returned when an LLM request fails.
	ErrLLMRequestFailed = errors.New("research: LLM request failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("research: invalid configuration")
)
