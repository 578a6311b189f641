package model

import "time"

// Shape is a recognized domain query shape that carries extra completeness
// requirements and targeted retry instructions.
type Shape string

const (
	ShapeGeneral               Shape = ""
	ShapeRightsIssueTimetable  Shape = "rights_issue_timetable"
	ShapeConnectedTransaction  Shape = "connected_transaction"
	ShapeNotifiableTransaction Shape = "notifiable_transaction"
)

// Query is the immutable input of one orchestration run.
type Query struct {
	ID          uint64    `json:"id"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Shape       Shape     `json:"shape,omitempty"`
	Retry       bool      `json:"retry,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
