package domain

import "time"

// Sender identifies who authored a message turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the two known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is one immutable turn in a user's conversation log.
//
// Rows are written in pairs (user prompt, bot reply) and read back ordered
// by CreatedAt. The ID is internal and never exposed by the API.
type Message struct {
	ID        string    `json:"-"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"-"         gorm:"type:char(36);not null;index:idx_user_msgs,priority:1"`
	Text      string    `json:"text"      gorm:"type:text;not null"`
	Sender    Sender    `json:"sender"    gorm:"type:varchar(8);not null;check:sender IN ('user','bot')"`
	CreatedAt time.Time `json:"timestamp" gorm:"index:idx_user_msgs,priority:2"`

	// User is the owner. No cascade behavior is relied upon.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// HistoryEntry is the projection returned by history reads.
type HistoryEntry struct {
	Text      string    `json:"text"      example:"hello"`
	Sender    Sender    `json:"sender"    example:"user"`
	Timestamp time.Time `json:"timestamp" example:"2025-01-02T15:04:05Z"`
}

// Entry projects m onto a HistoryEntry.
func (m Message) Entry() HistoryEntry {
	return HistoryEntry{Text: m.Text, Sender: m.Sender, Timestamp: m.CreatedAt}
}
