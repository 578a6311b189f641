package classifier

import (
	"regexp"
	"strings"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

// Element is a named topical marker a complete answer of some shape must carry.
type Element struct {
	Name    string
	Pattern *regexp.Regexp
}

var (
	elementThreshold = Element{
		Name:    "concrete threshold",
		Pattern: regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(%|per\s*cent|percent)`),
	}
	elementConclusion = Element{
		Name: "approval conclusion",
		Pattern: regexp.MustCompile(`(?i)(approval\s+(is|is\s+not|isn't|will\s+be|will\s+not\s+be|would\s+be|would\s+not\s+be)\s+(required|needed|necessary))|` +
			`(requires?\s+(prior\s+)?(independent\s+)?shareholders?'?\s+approval)|` +
			`(no\s+(independent\s+)?(shareholders?'?\s+)?approval\s+(is\s+)?(required|needed))|` +
			`(subject\s+to\s+(independent\s+)?shareholders?'?\s+approval)|` +
			`(exempt\s+from\s+(the\s+)?(independent\s+)?shareholders?'?\s+approval)`),
	}
	elementSummary = Element{
		Name:    "summary",
		Pattern: regexp.MustCompile(`(?i)\b(in\s+summary|summary|to\s+summari[sz]e|in\s+conclusion|key\s+takeaways?|overall)\b`),
	}
	elementTimetable = Element{
		Name:    "timetable",
		Pattern: regexp.MustCompile(`(?i)(\bT\s*[+-]\s*\d+\b)|(\bday\s+\d+\b)|(\b\d+\s+(business|trading)\s+days?\b)|(\btimetable\b)`),
	}
)

// requiredElements lists what each recognized shape must contain, in report order.
var requiredElements = map[model.Shape][]Element{
	model.ShapeRightsIssueTimetable:  {elementTimetable, elementThreshold, elementConclusion, elementSummary},
	model.ShapeConnectedTransaction:  {elementThreshold, elementConclusion, elementSummary},
	model.ShapeNotifiableTransaction: {elementThreshold, elementConclusion, elementSummary},
}

// RequiredElements returns the element names checked for shape.
func RequiredElements(shape model.Shape) []string {
	els := requiredElements[shape]
	names := make([]string, 0, len(els))
	for _, e := range els {
		names = append(names, e.Name)
	}
	return names
}

var (
	rightsIssueRe = regexp.MustCompile(`(?i)\b(rights\s+issues?|open\s+offers?)\b`)
	timetableRe   = regexp.MustCompile(`(?i)\b(timetables?|timelines?|schedules?|key\s+dates|expected\s+dates)\b`)
	connectedRe   = regexp.MustCompile(`(?i)\bconnected\s+(transactions?|persons?)\b`)
	notifiableRe  = regexp.MustCompile(`(?i)\b(major|discloseable|notifiable|very\s+substantial)\s+(transactions?|acquisitions?|disposals?)\b|\bpercentage\s+ratios?\b|\bsize\s+tests?\b`)
)

// DetectShape recognizes the domain shape of a query. Unknown queries map to
// ShapeGeneral, which carries no domain completeness requirements.
func DetectShape(query string) model.Shape {
	q := strings.TrimSpace(query)
	switch {
	case rightsIssueRe.MatchString(q) && timetableRe.MatchString(q):
		return model.ShapeRightsIssueTimetable
	case connectedRe.MatchString(q):
		return model.ShapeConnectedTransaction
	case notifiableRe.MatchString(q):
		return model.ShapeNotifiableTransaction
	default:
		return model.ShapeGeneral
	}
}
