package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatMessage is one record of the append-only conversation log.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Agent   string `json:"agent,omitempty"`
}

type ChatSession struct {
	gorm.Model
	SessionID string `gorm:"size:36;unique;not null"` // public UUID handed to the client

	// Nullable until identity is resolved during PAN verification
	CustomerID *uint
	Customer   *Customer `gorm:"constraint:OnDelete:SET NULL"`

	// Transient identity data held before a Customer row exists
	CustomerName   string `gorm:"size:200;default:''"`
	TempDateOfBirth string `gorm:"size:20;default:''"`

	Stage        string         `gorm:"size:50;default:'greeting'"`
	Conversation datatypes.JSON `gorm:"default:'[]'"`

	// Staged PAN-card document awaiting the face-match step. Holds at most one
	// document and must be cleared once consumed or on an owning-stage error.
	TempPanImage     []byte
	TempPanImageMime string `gorm:"size:64;default:''"`

	Language string `gorm:"size:8;default:'en'"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// Messages parses the conversation log. A corrupt log yields an empty history.
func (s *ChatSession) Messages() []ChatMessage {
	var msgs []ChatMessage
	if len(s.Conversation) == 0 {
		return msgs
	}
	if err := json.Unmarshal(s.Conversation, &msgs); err != nil {
		return nil
	}
	return msgs
}

// AppendMessage appends one record to the conversation log. The log is
// append-only; existing records are never edited or reordered.
func (s *ChatSession) AppendMessage(role, content, agent string) error {
	msgs := append(s.Messages(), ChatMessage{Role: role, Content: content, Agent: agent})
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	s.Conversation = datatypes.JSON(raw)
	return nil
}

// HasStagedPanImage reports whether a PAN document is parked for face matching.
func (s *ChatSession) HasStagedPanImage() bool {
	return len(s.TempPanImage) > 0
}

// ClearStagedPanImage drops the staged PAN document bytes.
func (s *ChatSession) ClearStagedPanImage() {
	s.TempPanImage = nil
	s.TempPanImageMime = ""
}
