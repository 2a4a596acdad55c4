package engine

import (
	"context"
	"strings"

	"helpdesk/pkg/llm"
)

// ResponsePolicy decides whether a user's reply actually answers the
// required-info question that was asked. The policy is pluggable because
// "responsive" has no single right definition; the default delegates to the
// LLM classifier.
type ResponsePolicy interface {
	IsResponsive(ctx context.Context, question, answer string) (bool, error)
}

// llmPolicy asks the classifier for a RESPONSIVE/NON_RESPONSIVE verdict.
// An unparseable verdict counts as non-responsive: re-asking is cheap, while
// accepting a garbage answer silently closes a required-info gap.
type llmPolicy struct {
	client llm.Client
}

// NewLLMPolicy returns the default classifier-backed policy.
func NewLLMPolicy(client llm.Client) ResponsePolicy {
	return &llmPolicy{client: client}
}

func (p *llmPolicy) IsResponsive(ctx context.Context, question, answer string) (bool, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(responsivenessSystemPrompt),
		llm.NewUserMessage(responsivenessUserPrompt(question, answer)),
	})
	req.MaxTokens = 16

	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return false, err
	}
	return parseTag(resp.Content, tagResponsive, tagNonResponsive) == tagResponsive, nil
}

// KeywordPolicy is a deterministic policy: a reply is responsive when it is
// non-empty and contains none of the reject keywords. Useful for tests and
// offline runs where no classifier is available.
type KeywordPolicy struct {
	Reject []string
}

// IsResponsive implements ResponsePolicy.
func (p *KeywordPolicy) IsResponsive(_ context.Context, _, answer string) (bool, error) {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return false, nil
	}
	lower := strings.ToLower(trimmed)
	for _, word := range p.Reject {
		if strings.Contains(lower, strings.ToLower(word)) {
			return false, nil
		}
	}
	return true, nil
}
