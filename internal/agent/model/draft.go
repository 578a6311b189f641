package model

import "strings"

// MergeMode selects how continuation text joins the running answer.
type MergeMode string

const (
	MergeSeamless MergeMode = "seamless"
	MergeLabeled  MergeMode = "labeled"
)

// Valid reports whether m is a known merge mode.
func (m MergeMode) Valid() bool {
	return m == MergeSeamless || m == MergeLabeled
}

// Fragment is the contribution of one batch to a draft.
type Fragment struct {
	Batch   int    `json:"batch"`
	Content string `json:"content"`
}

// ResponseDraft is the accumulating user-visible answer for one query.
// Only the merger mutates it.
type ResponseDraft struct {
	QueryID     uint64     `json:"query_id"`
	MessageID   string     `json:"message_id"`
	Fragments   []Fragment `json:"fragments"`
	Mode        MergeMode  `json:"mode"`
	ModeFixed   bool       `json:"mode_fixed"`
	IsTruncated bool       `json:"is_truncated"`
	Sealed      bool       `json:"sealed"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// NextBatch is the only batch number the merger accepts next.
func (d *ResponseDraft) NextBatch() int {
	return len(d.Fragments) + 1
}

// Content renders the draft the way it appears in the conversation log.
// Fragments already carry any part labels, so rendering is a plain join.
func (d *ResponseDraft) Content() string {
	var b strings.Builder
	for _, f := range d.Fragments {
		b.WriteString(f.Content)
	}
	return b.String()
}

// LastContent returns the text of the most recent fragment.
func (d *ResponseDraft) LastContent() string {
	if len(d.Fragments) == 0 {
		return ""
	}
	return d.Fragments[len(d.Fragments)-1].Content
}
