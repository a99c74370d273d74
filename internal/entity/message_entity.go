package entity

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Source struct {
	DocumentId string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Page       int     `json:"page,omitempty"`
	Score      float32 `json:"score,omitempty"`
}

// Message is one turn of a conversation. Content only changes while
// Streaming is true.
type Message struct {
	Id        uuid.UUID              `json:"id"`
	Role      MessageRole            `json:"role"`
	Content   string                 `json:"content"`
	Sources   []Source               `json:"sources,omitempty"`
	Cached    bool                   `json:"cached"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Streaming bool                   `json:"streaming"`
	Errored   bool                   `json:"errored"`
	Error     string                 `json:"error,omitempty"`
}

// Clone returns a copy that shares nothing mutable with m.
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = make([]Source, len(m.Sources))
		copy(out.Sources, m.Sources)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
