// Package classifier decides whether generated text is a complete answer or
// was cut off, and recognizes degraded fallback answers.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

const (
	reasonLexicalPrefix = "lexical marker: "
	reasonNotePrefix    = "note: "
	reasonMissingPrefix = "missing required element: "
	reasonGateway       = "gateway reported incomplete response"
)

// Input is everything the classifier looks at for one attempt.
// An empty Shape is resolved from Query. Answer is the whole answer merged
// so far when Text is a continuation batch; balance and domain checks run on
// it, marker checks on Text alone. Empty Answer means Text.
type Input struct {
	Text     string
	Answer   string
	Shape    model.Shape
	Query    string
	Metadata *model.ResponseMetadata
}

type marker struct {
	name string
	re   *regexp.Regexp
}

// explicit continuation markers, checked in order
var lexicalMarkers = []marker{
	{"to be continued", regexp.MustCompile(`(?i)\bto\s+be\s+continued\b`)},
	{"continued in next part", regexp.MustCompile(`(?i)\bcontinued\s+(in|on)\s+(the\s+)?(next|following)\s+(part|section|message|response)\b`)},
	{"deferred to a later part", regexp.MustCompile(`(?i)\b(will|shall)\s+be\s+(outlined|covered|discussed|provided|continued|detailed|explained|addressed|listed)\s+in\s+part\s+\d+\b`)},
	{"reference to a later part", regexp.MustCompile(`(?i)\b(see|refer\s+to|continue\s+(in|with))\s+part\s+\d+\b`)},
	{"continued tag", regexp.MustCompile(`(?i)[\[(]\s*(continued|cont'?d)\s*[\])]`)},
	{"offer to continue", regexp.MustCompile(`(?i)\b(shall\s+i\s+continue|let\s+me\s+know\s+if\s+you('d|\s+would)?\s+(like|want)\s+me\s+to\s+continue)\b`)},
}

var bracketPairs = [...][2]rune{{'(', ')'}, {'[', ']'}, {'{', '}'}}

// Classify runs the lexical, domain and metadata checks and combines them.
// Any single failing check marks the answer incomplete, except that a
// passing domain check downgrades lexical findings to soft notes.
func Classify(in Input) model.TruncationVerdict {
	shape := in.Shape
	if shape == model.ShapeGeneral {
		shape = DetectShape(in.Query)
	}

	answer := in.Answer
	if answer == "" {
		answer = in.Text
	}

	lexical := lexicalFindings(in.Text, answer)
	missing := missingElements(answer, shape)
	metaReasons, metaFail := metadataFindings(in.Metadata)

	domainChecked := shape != model.ShapeGeneral
	domainFail := domainChecked && len(missing) > 0
	lexicalFail := len(lexical) > 0
	override := lexicalFail && domainChecked && !domainFail

	hard := 0
	if lexicalFail && !override {
		hard++
	}
	if domainFail {
		hard++
	}
	if metaFail {
		hard++
	}

	reasons := make([]string, 0, len(lexical)+len(missing)+len(metaReasons))
	for _, l := range lexical {
		if override {
			reasons = append(reasons, reasonNotePrefix+reasonLexicalPrefix+l)
		} else {
			reasons = append(reasons, reasonLexicalPrefix+l)
		}
	}
	for _, m := range missing {
		reasons = append(reasons, reasonMissingPrefix+m)
	}
	reasons = append(reasons, metaReasons...)

	v := model.TruncationVerdict{
		IsComplete: hard == 0,
		Reasons:    reasons,
	}
	switch {
	case hard >= 2:
		v.Confidence = model.ConfidenceHigh
	case hard == 1:
		v.Confidence = model.ConfidenceMedium
	case override:
		v.Confidence = model.ConfidenceLow
	default:
		v.Confidence = model.ConfidenceHigh
	}
	return v
}

func lexicalFindings(text, answer string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{"empty response"}
	}

	var out []string
	for _, m := range lexicalMarkers {
		if loc := m.re.FindString(trimmed); loc != "" {
			out = append(out, fmt.Sprintf("%s (%q)", m.name, loc))
		}
	}

	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		out = append(out, "trailing ellipsis")
	}

	whole := strings.TrimSpace(answer)
	if strings.Count(whole, "```")%2 == 1 {
		out = append(out, "unterminated code block")
	}

	// fenced code routinely contains unbalanced delimiters
	prose := stripCodeFences(whole)
	for _, p := range bracketPairs {
		if strings.Count(prose, string(p[0])) > strings.Count(prose, string(p[1])) {
			out = append(out, fmt.Sprintf("unterminated bracket %q", p[0]))
		}
	}
	if strings.Count(prose, `"`)%2 == 1 {
		out = append(out, "unterminated quote")
	} else if strings.Count(prose, "“") > strings.Count(prose, "”") {
		out = append(out, "unterminated quote")
	}
	return out
}

func stripCodeFences(s string) string {
	parts := strings.Split(s, "```")
	var b strings.Builder
	for i, p := range parts {
		if i%2 == 0 {
			b.WriteString(p)
		}
	}
	return b.String()
}

func missingElements(text string, shape model.Shape) []string {
	var missing []string
	for _, e := range requiredElements[shape] {
		if !e.Pattern.MatchString(text) {
			missing = append(missing, e.Name)
		}
	}
	return missing
}

// metadataFindings honors the gateway's own incompleteness report verbatim.
func metadataFindings(md *model.ResponseMetadata) ([]string, bool) {
	if md == nil || md.ResponseCompleteness == nil || md.ResponseCompleteness.IsComplete {
		return nil, false
	}
	if len(md.ResponseCompleteness.Reasons) == 0 {
		return []string{reasonGateway}, true
	}
	return append([]string(nil), md.ResponseCompleteness.Reasons...), true
}
