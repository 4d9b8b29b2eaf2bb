package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tanmaysingewar/betterindex/internal/ai"
	"github.com/tanmaysingewar/betterindex/internal/logger"
)

// ErrChatOwnership means the chat exists but belongs to a different user. No
// provider call and no writes may follow it.
var ErrChatOwnership = errors.New("chat belongs to another user")

const (
	defaultPage  = 1
	defaultLimit = 15
	maxLimit     = 100

	titleInstruction = "Generate a short title for the conversation based on the user's first message. " +
		"Emit only the title, at most 100 characters, no quotes or symbols."
)

type Service struct {
	repo         *Repo
	registry     *ai.Registry
	providerName string
	titleModel   string
	titleTimeout time.Duration
}

func NewService(repo *Repo, registry *ai.Registry, providerName, titleModel string, titleTimeout time.Duration) *Service {
	if titleTimeout <= 0 {
		titleTimeout = 10 * time.Second
	}
	return &Service{
		repo:         repo,
		registry:     registry,
		providerName: providerName,
		titleModel:   titleModel,
		titleTimeout: titleTimeout,
	}
}

func (s *Service) Provider(ctx context.Context, model string) (ai.Provider, error) {
	return s.registry.Get(ctx, s.providerName, model)
}

// ResolveOptions carries the request flags that influence chat resolution.
type ResolveOptions struct {
	// Edited restarts the chat: all turns and the chat row are deleted, then
	// the chat is recreated under the same id.
	Edited bool
	// FirstMessage seeds title generation for a new chat.
	FirstMessage string
}

type Resolution struct {
	New   bool
	Title string
}

// Resolve decides whether chatID is new, existing-and-owned, or foreign.
// New chats get a generated title and a row before the conversation proceeds.
func (s *Service) Resolve(ctx context.Context, chatID, userID string, opts ResolveOptions) (Resolution, error) {
	existing, err := s.repo.GetChat(ctx, chatID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return Resolution{}, ErrChatOwnership
		}
		if !opts.Edited {
			return Resolution{New: false, Title: existing.Title}, nil
		}
		if err := s.repo.DeleteChat(ctx, chatID); err != nil {
			return Resolution{}, err
		}
		// fall through to the new-chat path
	case errors.Is(err, gorm.ErrRecordNotFound):
		// new chat
	default:
		return Resolution{}, err
	}

	title := s.generateTitle(ctx, chatID, opts.FirstMessage)
	if err := s.repo.CreateChat(ctx, &Chat{ID: chatID, UserID: userID, Title: title}); err != nil {
		return Resolution{}, err
	}
	return Resolution{New: true, Title: title}, nil
}

// generateTitle makes one short, non-streaming provider call with a bounded
// timeout. Any failure degrades to a title derived from the chat id.
func (s *Service) generateTitle(ctx context.Context, chatID, firstMessage string) string {
	fallback := fallbackTitle(chatID)

	provider, err := s.registry.Get(ctx, s.providerName, s.titleModel)
	if err != nil {
		logger.Warnf("title provider unavailable chat_id=%s err=%v", chatID, err)
		return fallback
	}

	tctx, cancel := context.WithTimeout(ctx, s.titleTimeout)
	defer cancel()

	raw, err := provider.Chat(tctx, []ai.Message{
		{Role: "system", Content: titleInstruction},
		{Role: "user", Content: firstMessage},
	})
	if err != nil {
		logger.Warnf("title generation failed chat_id=%s err=%v", chatID, err)
		return fallback
	}

	title := sanitizeTitle(raw)
	if title == "" {
		return fallback
	}
	return title
}

func fallbackTitle(chatID string) string {
	short := chatID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("chat-%s", short)
}

func sanitizeTitle(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.NewReplacer(`"`, "", "'", "", "`", "").Replace(t)
	runes := []rune(t)
	if len(runes) > 100 {
		t = string(runes[:100])
	}
	return strings.TrimSpace(t)
}

// SaveTurn persists one completed user/assistant turn. A response that trims
// to empty is a decision not to persist, not an error.
func (s *Service) SaveTurn(ctx context.Context, chatID, userMessage, botResponse string, attachment *string) error {
	if strings.TrimSpace(botResponse) == "" {
		logger.Infof("skipping empty turn chat_id=%s", chatID)
		return nil
	}
	id, err := NewTurnID()
	if err != nil {
		return err
	}
	return s.repo.InsertTurn(ctx, &Turn{
		ID:          id,
		ChatID:      chatID,
		UserMessage: userMessage,
		BotResponse: botResponse,
		Attachment:  attachment,
	})
}

// SaveEntries batch-persists a client-held transcript verbatim as turns. Used
// by the shared/imported and edited flows; the whole list is one logical unit.
func (s *Service) SaveEntries(ctx context.Context, chatID string, entries []Entry) error {
	turns, err := PairEntries(chatID, entries)
	if err != nil {
		return err
	}
	return s.repo.InsertTurns(ctx, turns)
}

// PairEntries folds a role/content transcript back into turns. A user entry
// with no assistant half, or an assistant half that trims to empty, is not a
// persistable turn.
func PairEntries(chatID string, entries []Entry) ([]Turn, error) {
	var turns []Turn
	var pendingUser string
	var hasUser bool
	for _, e := range entries {
		switch e.Role {
		case "user":
			pendingUser = e.Content
			hasUser = true
		case "assistant":
			if !hasUser || strings.TrimSpace(e.Content) == "" {
				continue
			}
			id, err := NewTurnID()
			if err != nil {
				return nil, err
			}
			turns = append(turns, Turn{
				ID:          id,
				ChatID:      chatID,
				UserMessage: pendingUser,
				BotResponse: e.Content,
			})
			hasUser = false
		}
	}
	return turns, nil
}

// Transcript flattens a chat's turns into ordered role/content entries. The
// read joins through ownership; a foreign chat yields ErrChatOwnership.
func (s *Service) Transcript(ctx context.Context, chatID, userID string) ([]Entry, error) {
	turns, err := s.repo.ListTurnsForOwner(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		// distinguish "empty chat" from "not yours"
		existing, err := s.repo.GetChat(ctx, chatID)
		if err == nil && existing.UserID != userID {
			return nil, ErrChatOwnership
		}
	}
	entries := make([]Entry, 0, len(turns)*2)
	for _, t := range turns {
		entries = append(entries,
			Entry{Role: "user", Content: t.UserMessage},
			Entry{Role: "assistant", Content: t.BotResponse},
		)
	}
	return entries, nil
}

func (s *Service) ListChats(ctx context.Context, userID string, page, limit int) ([]ChatSummary, Pagination, error) {
	if page <= 0 {
		page = defaultPage
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	total, err := s.repo.CountChats(ctx, userID)
	if err != nil {
		return nil, Pagination{}, err
	}

	items, err := s.repo.ListChats(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, Pagination{}, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return items, Pagination{
		CurrentPage: page,
		PageSize:    limit,
		TotalChats:  total,
		TotalPages:  totalPages,
	}, nil
}
