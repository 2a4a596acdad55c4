package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient wraps the official OpenAI SDK to implement the Client interface.
// Uses the Responses API, which accepts a flattened conversation transcript.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client (raw client, middleware applied at higher level).
func NewOpenAIClient(apiKey, model string) Client {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: client,
		model:  model,
	}
}

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return CompletionResponse{}, fmt.Errorf("message list cannot be empty")
	}

	// Combine messages into a single input string for the Responses API.
	var inputText string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case RoleUser:
			inputText += msg.Content + "\n\n"
		case RoleAssistant:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return CompletionResponse{}, fmt.Errorf("empty response from OpenAI API")
	}

	return CompletionResponse{
		Content:    content,
		StopReason: "end_turn",
	}, nil
}

// ModelName returns the model name for this client.
func (o *OpenAIClient) ModelName() string {
	return o.model
}
