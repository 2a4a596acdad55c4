package engine

import (
	"fmt"
	"strings"

	"helpdesk/pkg/contextmgr"
	"helpdesk/pkg/kb"
)

// Classifier tags. Every classifier call instructs the model to answer with
// exactly one of these tokens, and the reply is parsed defensively: an
// unparseable reply falls back to the call site's documented default rather
// than being trusted.
const (
	tagProblem       = "PROBLEM"
	tagOffTopic      = "OFF_TOPIC"
	tagResponsive    = "RESPONSIVE"
	tagNonResponsive = "NON_RESPONSIVE"
	tagResolved      = "RESOLVED"
	tagNotResolved   = "NOT_RESOLVED"
	tagEscalate      = "ESCALATE"
)

const routingSystemPrompt = `You are a message router for an internal IT helpdesk.
Decide whether the user's message describes a technical problem or request that
should be tracked as an incident, or is a greeting, small talk, or otherwise
off-topic.

Respond with exactly one word:
PROBLEM - the message plausibly describes an IT issue or request
OFF_TOPIC - a greeting, thanks, small talk, or anything unrelated to IT support`

const conversationalSystemPrompt = `You are the assistant of an internal IT helpdesk.
The user's message is not an IT problem report. Reply briefly and politely, and
let them know you can help as soon as they describe a technical issue. Do not
invent incidents or solutions. Keep it to one or two sentences.`

const responsivenessSystemPrompt = `You are validating a clarification dialogue for an IT helpdesk.
The assistant asked the user for a specific piece of information. Decide whether
the user's reply actually answers the question that was asked. A reply that is
evasive, a counter-question, or about something else entirely is not an answer.

Respond with exactly one word:
RESPONSIVE - the reply answers the question asked
NON_RESPONSIVE - the reply does not answer the question asked`

const resolutionSystemPrompt = `You are tracking an IT incident for which solution steps were
already delivered to the user. Classify the user's latest message.

Respond with exactly one word:
RESOLVED - the user confirms the problem is fixed or thanks you and closes out
NOT_RESOLVED - the user is still working on it, asks a follow-up, or is unclear
ESCALATE - the user says the solution failed or asks for a human`

const followUpSystemPrompt = `You are the assistant of an internal IT helpdesk. The user already
received the solution steps below but has a follow-up. Help them apply the
steps. Do not invent steps that are not in the solution, and do not declare the
incident resolved yourself. Keep the reply short.`

func routingUserPrompt(userText string, history []contextmgr.Message) string {
	var b strings.Builder
	if h := renderHistory(history); h != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User message: %s", userText)
	return b.String()
}

func responsivenessUserPrompt(question, answer string) string {
	return fmt.Sprintf("Question asked: %s\nUser reply: %s", question, answer)
}

func resolutionUserPrompt(entry *kb.Entry, userText string, history []contextmgr.Message) string {
	var b strings.Builder
	if entry != nil {
		fmt.Fprintf(&b, "Solution steps delivered:\n%s\n\n", entry.SolutionSteps)
	}
	if h := renderHistory(history); h != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User message: %s", userText)
	return b.String()
}

func followUpUserPrompt(entry *kb.Entry, userText string, history []contextmgr.Message) string {
	var b strings.Builder
	if entry != nil {
		fmt.Fprintf(&b, "Solution steps:\n%s\n\n", entry.SolutionSteps)
	}
	if h := renderHistory(history); h != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User: %s", userText)
	return b.String()
}

// renderHistory flattens a token-bounded conversation window into prompt text.
func renderHistory(history []contextmgr.Message) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// parseTag extracts one of the valid tags from a raw model reply. Longer tags
// are matched first so NOT_RESOLVED is never mistaken for RESOLVED. Returns
// the empty string when nothing matches.
func parseTag(raw string, valid ...string) string {
	reply := strings.ToUpper(strings.TrimSpace(raw))
	for _, tag := range valid {
		if reply == tag {
			return tag
		}
	}

	ordered := append([]string(nil), valid...)
	for i := range ordered {
		for j := i + 1; j < len(ordered); j++ {
			if len(ordered[j]) > len(ordered[i]) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	for _, tag := range ordered {
		if strings.Contains(reply, tag) {
			return tag
		}
	}
	return ""
}
