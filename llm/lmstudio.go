package llm

// NewLMStudio creates a provider for LM Studio's OpenAI-compatible
// local server.
func NewLMStudio(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234"
	}
	return &openAICompatProvider{base: newOpenAICompatClient(cfg)}
}
