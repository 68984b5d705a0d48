package models

import "time"

// Message is a single entry of a conversation. Messages are immutable once appended.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	// Metadata is nil when the tutor did not attach any subject or source.
	Metadata *Metadata
}

// Metadata carries the optional annotations the tutor attaches to an answer.
type Metadata struct {
	Subject string
	Source  string
}

// Answer is the tutor's reply to a single question.
type Answer struct {
	Subject string
	Text    string
	Source  string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the student.
	RoleUser Role = "user"
	// RoleAssistant represents a message written by the tutor.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an instruction message that is never rendered as part of the dialogue.
	RoleSystem Role = "system"
)

// Metadata returns the answer annotations, or nil if the answer has none.
func (a Answer) Metadata() *Metadata {
	if a.Subject == "" && a.Source == "" {
		return nil
	}
	return &Metadata{Subject: a.Subject, Source: a.Source}
}

// Clone returns a copy of m that does not share its metadata.
func (m Message) Clone() Message {
	if m.Metadata != nil {
		md := *m.Metadata
		m.Metadata = &md
	}
	return m
}
