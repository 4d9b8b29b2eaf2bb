package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Chat identity is minted by the client before the server has heard of it,
// so the client-supplied id is the primary key. UserID never changes once set.
type Chat struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"-"`
	Title     string    `gorm:"size:100;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func (Chat) TableName() string { return "chats" }

// Turn is the atomic persistence unit: the user message and its assistant
// response are stored together, never the user half alone.
type Turn struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"` // ULID length
	ChatID      string    `gorm:"size:64;index;not null" json:"chat_id"`
	UserMessage string    `gorm:"type:text;not null" json:"user_message"`
	BotResponse string    `gorm:"type:text;not null" json:"bot_response"`
	Attachment  *string   `gorm:"type:text" json:"attachment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "turns" }

// Entry is one role/content element of a flattened transcript.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSummary is the chat-list projection.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	TotalChats  int64 `json:"totalChats"`
	TotalPages  int   `json:"totalPages"`
}

func NewTurnID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func NewChatID() (string, error) {
	return NewTurnID()
}
