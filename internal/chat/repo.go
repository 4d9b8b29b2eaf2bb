package chat

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteChat removes the chat row and all of its turns as one transaction.
// Used by the edited-message flow before the chat is recreated under the
// same id.
func (r *Repo) DeleteChat(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Turn{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Chat{}, "id = ?", id).Error
	})
}

func (r *Repo) InsertTurn(ctx context.Context, t *Turn) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// InsertTurns batch-persists turns as one logical unit.
func (r *Repo) InsertTurns(ctx context.Context, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(turns, 100).Error
}

// ListTurnsForOwner returns a chat's turns in creation order, joined through
// chat ownership so a guessed chat id never leaks another user's turns.
func (r *Repo) ListTurnsForOwner(ctx context.Context, chatID, userID string) ([]Turn, error) {
	var turns []Turn
	err := r.db.WithContext(ctx).
		Joins("JOIN chats ON chats.id = turns.chat_id").
		Where("turns.chat_id = ? AND chats.user_id = ?", chatID, userID).
		Order("turns.id ASC").
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// ListChats returns one recency-ordered page of the caller's chats.
func (r *Repo) ListChats(ctx context.Context, userID string, offset, limit int) ([]ChatSummary, error) {
	var out []ChatSummary
	err := r.db.WithContext(ctx).
		Model(&Chat{}).
		Select("id", "title", "created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountChats(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&Chat{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}
