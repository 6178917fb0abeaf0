package playground

import (
	"context"

	"promptlab/internal/chat"
	"promptlab/internal/genai"
)

// GenAIStreamer adapts the API client to the controller's stream interface.
type GenAIStreamer struct {
	Client *genai.Client
}

var _ chat.Streamer = GenAIStreamer{}

func (g GenAIStreamer) StreamGenerateContent(ctx context.Context, apiKey string, req genai.GenerateRequest) (chat.FragmentStream, error) {
	stream, err := g.Client.StreamGenerateContent(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
