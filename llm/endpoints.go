package llm

// endpoint holds the defaults of a hosted API. Empty fields must come from
// Config.
type endpoint struct {
	baseURL string
	model   string
	// nativeEmbed selects Ollama's /api/embed for embeddings.
	nativeEmbed bool
}

// endpoints lists the supported providers.
//
//	mistral   chat, embeddings ("mistral-embed", 1024 dim) and pixtral vision
//	together  Llama vision models used for OCR
//	openai    text-embedding-3-small (1536 dim) and gpt-4o-mini by default
//	ollama    local daemon; chat via /v1, embeddings via /api/embed
//	custom    any OpenAI-compatible server, BaseURL required
var endpoints = map[string]endpoint{
	"mistral": {
		baseURL: "https://api.mistral.ai",
		model:   "mistral-small-latest",
	},
	"together": {
		baseURL: "https://api.together.xyz",
		model:   "meta-llama/Llama-3.2-90B-Vision-Instruct-Turbo",
	},
	"openai": {
		baseURL: "https://api.openai.com",
		model:   "gpt-4o-mini",
	},
	"ollama": {
		baseURL:     "http://localhost:11434",
		nativeEmbed: true,
	},
	"custom": {},
}

// newEndpointClient fills the empty fields of cfg from ep.
func newEndpointClient(name string, ep endpoint, cfg Config) *apiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ep.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = ep.model
	}
	c := newAPIClient(name, cfg)
	c.nativeEmbed = ep.nativeEmbed
	return c
}
