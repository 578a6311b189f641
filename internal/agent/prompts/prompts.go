// Package prompts renders the text sent to the model: the system prompt,
// the per-query user prompt and continuation requests.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

//go:embed template/system_prompt.txt
var systemPrompt string

//go:embed template/continuation_prompt.txt
var continuationPrompt string

// PromptKey is the chat template variable carrying the user prompt.
const PromptKey = "prompt"

// NewChatTemplate builds the gateway's chat template: the system prompt
// followed by the user prompt supplied under PromptKey.
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{{."+PromptKey+"}}"),
	)
}

// Vars are the chat template variables of one gateway call.
func Vars(userPrompt, language string, format model.Format) map[string]any {
	lang := strings.ToLower(strings.TrimSpace(language))
	switch lang {
	case "", "en":
		lang = "eng"
	case "th":
		lang = "tha"
	case "zh":
		lang = "zho"
	}
	if format == "" {
		format = model.FormatText
	}
	return map[string]any{
		PromptKey:  userPrompt,
		"Language": lang,
		"Format":   string(format),
	}
}

// RenderSystem renders only the system message. Used by the CLI to show the
// effective instructions.
func RenderSystem(ctx context.Context, language string, format model.Format) (string, error) {
	msgs, err := NewChatTemplate().Format(ctx, Vars("", language, format))
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// BuildQueryPrompt assembles the user prompt of a query's first attempt.
// Empty context and history sections are left out.
func BuildQueryPrompt(query, contextText, history string) string {
	var b strings.Builder
	if history = strings.TrimSpace(history); history != "" {
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	if contextText = strings.TrimSpace(contextText); contextText != "" {
		b.WriteString("<retrieved_context>\n")
		b.WriteString(contextText)
		b.WriteString("\n</retrieved_context>\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(query))
	return b.String()
}

// ContinuationMarker tags a continuation request with its batch position.
func ContinuationMarker(batch, maxBatches int) string {
	return fmt.Sprintf("[CONTINUATION batch %d/%d]", batch, maxBatches)
}

// BuildContinuationPrompt asks for the rest of an answer. The request
// carries the batch number, the last tailChars runes of the answer so far
// and the original prompt.
func BuildContinuationPrompt(basePrompt, answer string, batch, maxBatches, tailChars int) string {
	var b strings.Builder
	b.WriteString(strings.NewReplacer(
		"{marker}", ContinuationMarker(batch, maxBatches),
		"{tail}", Tail(answer, tailChars),
	).Replace(continuationPrompt))
	b.WriteString("\n")
	b.WriteString(basePrompt)
	return b.String()
}

// Tail returns the last n runes of s.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

var internalTokens = regexp.MustCompile(`(?i)\[(?:CONTINUATION|RETRY)[^\]\n]*\]|<\|?CONTINUE\|?>|[\[(]\s*(?:continued|cont'?d)\s*[\])]`)

// StripInternalTokens removes continuation and retry markers a model may
// echo back, along with "(continued)" style tags.
func StripInternalTokens(text string) string {
	out := internalTokens.ReplaceAllString(text, "")
	return strings.TrimLeft(out, " \t\r\n")
}
