package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tanmaysingewar/betterindex/internal/chat"
)

// State is the controller's explicit phase. Guards that used to be ad-hoc
// boolean flags (in-flight send, re-render re-entrancy) are states instead.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateSending
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrBusy rejects a submit while another send is in flight on this chat.
var ErrBusy = errors.New("a send is already in flight")

const defaultGreeting = "Hi! How can I help you today?"

// Snapshot is the immutable view handed to the observer on every transition.
type Snapshot struct {
	State          State
	ChatID         string
	Transcript     []chat.Entry
	PendingUserMsg string
	Err            string
}

// ControllerConfig wires the controller's collaborators explicitly; there is
// no ambient global state, which keeps the machine testable in isolation.
type ControllerConfig struct {
	API      ServerAPI
	Cache    *Cache
	Model    string
	Greeting string
	// OnChange observes every state transition. It runs synchronously and
	// must not call back into the controller.
	OnChange func(Snapshot)
	// OnNavigate is invoked when a submit on an empty session mints a chat
	// id, so the surrounding UI can push it into the navigable location.
	OnNavigate func(chatID string)
}

// Controller reconciles navigation, cache, server fetch, and the in-flight
// send into one consistent message list. At most one send is in flight per
// controller; a new submit while sending or streaming is rejected.
type Controller struct {
	mu sync.Mutex

	api      ServerAPI
	cache    *Cache
	model    string
	greeting string

	onChange   func(Snapshot)
	onNavigate func(chatID string)

	state      State
	chatID     string
	transcript []chat.Entry
	pending    string
	lastErr    string

	// sendSeq identifies the current send; stale stream callbacks and
	// results carry an older value and are ignored
	sendSeq uint64

	// newChat marks a chat the server has not titled in our list cache yet
	newChat bool
	// seeded guards one delivery of the queued initial message per chat id
	seeded map[string]bool
}

func NewController(cfg ControllerConfig) *Controller {
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = defaultGreeting
	}
	return &Controller{
		api:        cfg.API,
		cache:      cfg.Cache,
		model:      cfg.Model,
		greeting:   greeting,
		onChange:   cfg.OnChange,
		onNavigate: cfg.OnNavigate,
		state:      StateIdle,
		seeded:     make(map[string]bool),
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state,
		ChatID:         c.chatID,
		Transcript:     append([]chat.Entry(nil), c.transcript...),
		PendingUserMsg: c.pending,
		Err:            c.lastErr,
	}
}

func (c *Controller) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.snapshotLocked())
	}
}

// Navigate points the controller at a chat id. The cache is consulted before
// any network request; a load failure keeps whatever transcript was already
// on screen. While a send is in flight, navigation (including a reload of the
// same chat) is rejected with ErrBusy; replacing the transcript mid-send
// would corrupt the turn being streamed.
func (c *Controller) Navigate(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.state == StateSending || c.state == StateStreaming {
		c.mu.Unlock()
		return ErrBusy
	}
	c.chatID = chatID
	c.state = StateLoading
	c.lastErr = ""
	c.notifyLocked()
	c.mu.Unlock()

	if c.cache != nil {
		if cached, hit := c.cache.ReadChat(chatID); hit {
			c.mu.Lock()
			c.transcript = cached
			c.newChat = false
			c.state = StateReady
			c.notifyLocked()
			c.mu.Unlock()
			return nil
		}
	}

	entries, err := c.api.Messages(ctx, chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatID != chatID {
		// navigated away while loading; drop this result
		return nil
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err.Error()
		c.notifyLocked()
		return err
	}
	if len(entries) == 0 {
		entries = []chat.Entry{{Role: "assistant", Content: c.greeting}}
		c.newChat = true
	} else {
		c.newChat = false
	}
	c.transcript = entries
	c.state = StateReady
	c.notifyLocked()
	return nil
}

// Submit runs one optimistic conversation turn through the state machine.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state == StateSending || c.state == StateStreaming {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	// duplicate submit suppression: same trimmed text as the last user entry
	if lastUser(c.transcript) == text {
		c.mu.Unlock()
		return nil
	}

	minted := false
	if c.chatID == "" {
		id, err := chat.NewChatID()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.chatID = id
		c.newChat = true
		minted = true
	}
	chatID := c.chatID

	before := append([]chat.Entry(nil), c.transcript...)
	c.transcript = append(c.transcript,
		chat.Entry{Role: "user", Content: text},
		chat.Entry{Role: "assistant", Content: ""}, // transient placeholder
	)
	placeholder := len(c.transcript) - 1
	c.sendSeq++
	seq := c.sendSeq
	c.pending = text
	c.lastErr = ""
	c.state = StateSending
	c.notifyLocked()
	navigate := c.onNavigate
	c.mu.Unlock()

	if minted && navigate != nil {
		navigate(chatID)
	}

	result, err := c.api.Complete(ctx, chatID, CompleteRequest{
		Message:               text,
		PreviousConversations: historyEntries(before),
		Model:                 c.model,
	}, func(delta string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		// deltas extend the placeholder captured at submit time, never
		// whatever happens to be last; a stale send's deltas are dropped
		if c.chatID != chatID || c.sendSeq != seq || placeholder >= len(c.transcript) {
			return
		}
		c.state = StateStreaming
		c.transcript[placeholder].Content += delta
		c.notifyLocked()
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chatID != chatID || c.sendSeq != seq {
		// the controller moved on mid-send; the result no longer applies
		return err
	}

	if err != nil {
		if c.state == StateSending {
			// nothing streamed yet: roll back to the pre-submit transcript
			// but keep the attempted text for retry
			c.transcript = before
		} else {
			// mid-stream failure: keep the user message, replace the partial
			// assistant entry with a synthesized error entry
			c.transcript[placeholder] = chat.Entry{
				Role:    "assistant",
				Content: "Something went wrong while generating a response. Please try again.",
			}
		}
		c.state = StateError
		c.lastErr = err.Error()
		c.notifyLocked()
		return err
	}

	c.pending = ""
	c.state = StateReady

	final := append([]chat.Entry(nil), c.transcript...)
	if c.cache != nil {
		if werr := c.cache.WriteChat(chatID, final); werr == nil && c.newChat && result.Title != "" {
			_ = c.cache.PrependChat(chat.ChatSummary{
				ID:        chatID,
				Title:     result.Title,
				CreatedAt: time.Now(),
			})
		}
	}
	c.newChat = false
	c.notifyLocked()
	return nil
}

// SeedInitialMessage delivers a message queued before the chat existed (for
// example from a landing screen) exactly once per chat id, no matter how many
// times the surrounding UI re-renders.
func (c *Controller) SeedInitialMessage(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	if c.seeded[chatID] {
		c.mu.Unlock()
		return nil
	}
	c.seeded[chatID] = true
	c.mu.Unlock()
	return c.Submit(ctx, text)
}

func lastUser(entries []chat.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == "user" {
			return strings.TrimSpace(entries[i].Content)
		}
	}
	return ""
}

// historyEntries strips the synthesized greeting (an assistant entry with no
// preceding user turn) so it is never persisted server-side.
func historyEntries(entries []chat.Entry) []chat.Entry {
	out := make([]chat.Entry, 0, len(entries))
	seenUser := false
	for _, e := range entries {
		if e.Role == "assistant" && !seenUser {
			continue
		}
		if e.Role == "user" {
			seenUser = true
		}
		out = append(out, e)
	}
	return out
}
