package llm

import (
	"context"
)

// ModelConfig is chosen per request from the admin config snapshot.
type ModelConfig struct {
	ModelName   string
	Temperature float64
	Streaming   bool
}

// ChatModel is a configured model ready to answer.
type ChatModel interface {
	Name() string
	Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error)
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Factory builds chat models against the primary and the fallback provider.
type Factory struct {
	primary        *Client
	secondary      *Client
	secondaryModel string
}

// NewFactory wires the two providers. secondaryModel overrides the model name
// on the fallback path when the provider uses deployment names.
func NewFactory(primary, secondary *Client, secondaryModel string) *Factory {
	if secondary == nil {
		secondary = primary
	}
	return &Factory{primary: primary, secondary: secondary, secondaryModel: secondaryModel}
}

func (f *Factory) Primary(cfg ModelConfig) ChatModel {
	return &chatModel{client: f.primary, cfg: cfg}
}

func (f *Factory) Secondary(cfg ModelConfig) ChatModel {
	if f.secondaryModel != "" {
		cfg.ModelName = f.secondaryModel
	}
	return &chatModel{client: f.secondary, cfg: cfg}
}

type chatModel struct {
	client *Client
	cfg    ModelConfig
}

func (m *chatModel) Name() string { return m.cfg.ModelName }

func (m *chatModel) Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error) {
	if !m.cfg.Streaming {
		text, err := m.client.Complete(ctx, m.cfg, messages)
		if err != nil {
			return "", err
		}
		return text, onChunk(text)
	}
	return m.client.StreamComplete(ctx, m.cfg, messages, onChunk)
}

func (m *chatModel) Complete(ctx context.Context, messages []Message) (string, error) {
	return m.client.Complete(ctx, m.cfg, messages)
}

type embedder struct {
	client *Client
	model  string
}

func NewEmbedder(client *Client, model string) Embedder {
	return &embedder{client: client, model: model}
}

func (e *embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, e.model, texts)
}
