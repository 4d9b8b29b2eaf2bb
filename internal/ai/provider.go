package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one increment of a streamed completion. Reasoning and answer text
// never share a chunk; Reasoning marks intermediate "thinking" output.
type Chunk struct {
	Reasoning bool
	Text      string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan Chunk, <-chan error)
}

// Searchable is an optional interface. Providers that can ground the
// completion in a web search expose it here; requests on providers without
// it simply proceed unaugmented.
type Searchable interface {
	EnableWebSearch()
}
