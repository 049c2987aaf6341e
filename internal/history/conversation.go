package history

import "time"

// Conversation is the normalized, storage-ready form of one exported conversation.
// The enrichment columns (Label, Summary, Instructions) stay empty until a batch
// run reconciles a result for this ID.
type Conversation struct {
	ID            string  `gorm:"primaryKey;type:text" json:"id"`
	Title         string  `gorm:"not null" json:"title"`
	CreatedAt     *int64  `gorm:"index;autoCreateTime:false" json:"created_at,omitempty"`
	UpdatedAt     *int64  `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	MessageCount  int     `gorm:"not null" json:"message_count"`
	HasImages     bool    `gorm:"not null" json:"has_images"`
	HasCode       bool    `gorm:"not null" json:"has_code"`
	TokenEstimate int     `gorm:"not null" json:"token_estimate"`
	FullText      string  `gorm:"type:text;not null" json:"full_text"`
	GroupID       *string `json:"group_id,omitempty"`

	Label        *string `gorm:"index" json:"label,omitempty"`
	Summary      *string `json:"summary,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

// Created returns the creation instant, or the zero time when unknown.
func (c *Conversation) Created() time.Time {
	if c.CreatedAt == nil {
		return time.Time{}
	}
	return time.Unix(*c.CreatedAt, 0).UTC()
}

// Enrichment is one reconciled classification result.
type Enrichment struct {
	ID           string
	Label        string
	Summary      string
	Instructions *string
}
