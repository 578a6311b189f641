package conversations

import (
	"strings"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

// BuildHistoryContext renders the last maxTurns non-error entries before
// queryID as prompt context for the next generation request.
func (l *Log) BuildHistoryContext(queryID uint64, maxTurns int) string {
	msgs := l.Messages()

	var prior []model.Message
	for _, m := range msgs {
		if m.QueryID >= queryID || m.IsError || strings.TrimSpace(m.Content) == "" {
			continue
		}
		prior = append(prior, m)
	}
	recent := trimTail(prior, maxTurns)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	for _, m := range recent {
		switch m.Role {
		case model.RoleUser:
			b.WriteString("UserMessage(" + m.Content + ")\n")
		case model.RoleAssistant:
			b.WriteString("AssistantMessage(" + m.Content + ")\n")
		}
	}
	b.WriteString("</conversation_context>")
	return b.String()
}

func trimTail(messages []model.Message, maxTurns int) []model.Message {
	if maxTurns <= 0 {
		return nil
	}
	if len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}
