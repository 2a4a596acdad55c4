// Package contextmgr manages conversation history under a token budget, so
// prompts replay as much recent context as fits without overflowing the model.
package contextmgr

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Message represents a single message in the conversation context.
type Message struct {
	Role    string
	Content string
}

// TokenCounter provides token counting backed by tiktoken.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter. All supported chat models are
// approximated with the GPT-4 encoding, which is close enough for budgeting.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token).
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// ContextManager accumulates conversation messages and serves the most recent
// window that fits a token budget.
type ContextManager struct {
	mu       sync.Mutex
	messages []Message
	counter  *TokenCounter
	budget   int
}

// NewContextManager creates a context manager with the given token budget.
// A nil counter falls back to character-based estimation.
func NewContextManager(counter *TokenCounter, budget int) *ContextManager {
	return &ContextManager{
		messages: make([]Message, 0),
		counter:  counter,
		budget:   budget,
	}
}

// AddMessage stores a role/content pair in the context.
func (cm *ContextManager) AddMessage(role, content string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, Message{Role: role, Content: content})
}

// Messages returns a copy of the full history.
func (cm *ContextManager) Messages() []Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]Message, len(cm.messages))
	copy(out, cm.messages)
	return out
}

// Window returns the longest suffix of the history that fits the token
// budget. The newest messages always win: if even the last message alone
// exceeds the budget, that single message is returned so a turn is never
// silently dropped.
func (cm *ContextManager) Window() []Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if len(cm.messages) == 0 {
		return nil
	}

	total := 0
	start := len(cm.messages)
	for i := len(cm.messages) - 1; i >= 0; i-- {
		cost := cm.counter.CountTokens(cm.messages[i].Role) + cm.counter.CountTokens(cm.messages[i].Content)
		if total+cost > cm.budget && start < len(cm.messages) {
			break
		}
		total += cost
		start = i
	}

	out := make([]Message, len(cm.messages)-start)
	copy(out, cm.messages[start:])
	return out
}

// TokenCount returns the token cost of the full history.
func (cm *ContextManager) TokenCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	total := 0
	for i := range cm.messages {
		total += cm.counter.CountTokens(cm.messages[i].Role) + cm.counter.CountTokens(cm.messages[i].Content)
	}
	return total
}

// Len returns the number of stored messages.
func (cm *ContextManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.messages)
}

// Clear drops all stored messages.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = cm.messages[:0]
}
