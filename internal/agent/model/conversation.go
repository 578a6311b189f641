package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log. ID is stable for the life of
// the entry, including when a seamless continuation rewrites Content.
type Message struct {
	ID          string    `json:"id"`
	QueryID     uint64    `json:"query_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	IsError     bool      `json:"is_error,omitempty"`
	IsTruncated bool      `json:"is_truncated,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	Batches     int       `json:"batches,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Warnings != nil {
		m.Warnings = append([]string(nil), m.Warnings...)
	}
	return m
}
