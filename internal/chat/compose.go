package chat

import (
	"encoding/json"
	"strings"

	"promptlab/internal/genai"
)

// ComposeInput gathers everything that shapes one generation request.
// History holds the prior turns only; the new prompt is passed separately so
// it can carry the image part.
type ComposeInput struct {
	Model             string
	SystemInstruction string
	Temperature       float64
	Examples          []Example
	History           []Turn
	Prompt            string
	ImageData         string // raw base64 PNG, no data URI prefix
	ResponseSchema    json.RawMessage
}

// Compose assembles the wire request: few-shot examples first, then prior
// turns, then the new user turn last. Examples with a blank side are skipped,
// and prior turns contribute text only.
func Compose(in ComposeInput) genai.GenerateRequest {
	contents := make([]genai.Content, 0, 2*len(in.Examples)+len(in.History)+1)

	for _, ex := range in.Examples {
		if strings.TrimSpace(ex.Input) == "" || strings.TrimSpace(ex.Output) == "" {
			continue
		}
		contents = append(contents,
			genai.Content{Role: "user", Parts: []genai.Part{{Text: ex.Input}}},
			genai.Content{Role: "model", Parts: []genai.Part{{Text: ex.Output}}},
		)
	}

	for _, turn := range in.History {
		contents = append(contents, genai.Content{
			Role:  string(turn.Role),
			Parts: []genai.Part{{Text: turn.Content}},
		})
	}

	var parts []genai.Part
	if in.ImageData != "" {
		parts = append(parts, genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: in.ImageData}})
	}
	parts = append(parts, genai.Part{Text: in.Prompt})
	contents = append(contents, genai.Content{Role: "user", Parts: parts})

	req := genai.GenerateRequest{
		Model:    in.Model,
		Contents: contents,
		GenerationConfig: &genai.GenerationConfig{
			Temperature: in.Temperature,
		},
	}
	if strings.TrimSpace(in.SystemInstruction) != "" {
		req.SystemInstruction = &genai.Content{Parts: []genai.Part{{Text: in.SystemInstruction}}}
	}
	if len(in.ResponseSchema) > 0 {
		req.GenerationConfig.ResponseMIMEType = "application/json"
		req.GenerationConfig.ResponseSchema = in.ResponseSchema
	}
	return req
}
