package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanmaysingewar/betterindex/internal/chat"
)

// fakeAPI scripts the server side of the controller. completeFn receives the
// controller's onChunk so a test can drive the stream however it likes.
type fakeAPI struct {
	messages     []chat.Entry
	messagesErr  error
	messageCalls int

	completeFn    func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error)
	completeCalls int
	lastChatID    string
	lastReq       CompleteRequest
}

func (f *fakeAPI) Messages(ctx context.Context, chatID string) ([]chat.Entry, error) {
	f.messageCalls++
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	return f.messages, nil
}

func (f *fakeAPI) Complete(ctx context.Context, chatID string, req CompleteRequest, onChunk func(delta string)) (*StreamResult, error) {
	f.completeCalls++
	f.lastChatID = chatID
	f.lastReq = req
	if f.completeFn != nil {
		return f.completeFn(chatID, req, onChunk)
	}
	return &StreamResult{}, nil
}

func TestNavigate_CacheHitSkipsServerFetch(t *testing.T) {
	cache := openTestCache(t)
	cached := []chat.Entry{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	require.NoError(t, cache.WriteChat("chat-1", cached))

	api := &fakeAPI{}
	c := NewController(ControllerConfig{API: api, Cache: cache})

	require.NoError(t, c.Navigate(context.Background(), "chat-1"))

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, cached, snap.Transcript)
	assert.Equal(t, 0, api.messageCalls, "cache hit must not touch the server")
}

func TestNavigate_EmptyChatGetsGreeting(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(ControllerConfig{API: api})

	require.NoError(t, c.Navigate(context.Background(), "chat-2"))

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, "assistant", snap.Transcript[0].Role)
	assert.Equal(t, defaultGreeting, snap.Transcript[0].Content)
}

func TestNavigate_FetchErrorKeepsTranscript(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-3"))

	api.messages = nil
	api.messagesErr = errors.New("server unreachable")
	err := c.Navigate(context.Background(), "chat-3")
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "server unreachable", snap.Err)
	// whatever was on screen stays on screen
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, defaultGreeting, snap.Transcript[0].Content)
}

func TestSubmit_HappyPathStreamsAndCaches(t *testing.T) {
	cache := openTestCache(t)
	api := &fakeAPI{
		completeFn: func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
			onChunk("Hel")
			onChunk("lo!")
			return &StreamResult{Title: "Greetings"}, nil
		},
	}

	var states []State
	var navigatedTo string
	c := NewController(ControllerConfig{
		API:        api,
		Cache:      cache,
		Model:      "test-model",
		OnChange:   func(s Snapshot) { states = append(states, s.State) },
		OnNavigate: func(id string) { navigatedTo = id },
	})

	require.NoError(t, c.Submit(context.Background(), "  hi  "))

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.NotEmpty(t, snap.ChatID)
	assert.Equal(t, snap.ChatID, navigatedTo, "minting a chat id must navigate the UI")
	assert.Empty(t, snap.PendingUserMsg)

	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, chat.Entry{Role: "user", Content: "hi"}, snap.Transcript[0])
	assert.Equal(t, chat.Entry{Role: "assistant", Content: "Hello!"}, snap.Transcript[1])

	assert.Contains(t, states, StateSending)
	assert.Contains(t, states, StateStreaming)

	// the final transcript was cached and the titled chat prepended
	got, hit := cache.ReadChat(snap.ChatID)
	require.True(t, hit)
	assert.Equal(t, snap.Transcript, got)

	list, hit := cache.ReadChatList()
	require.True(t, hit)
	require.Len(t, list.Chats, 1)
	assert.Equal(t, "Greetings", list.Chats[0].Title)

	assert.Equal(t, "test-model", api.lastReq.Model)
	assert.Equal(t, "hi", api.lastReq.Message)
}

func TestSubmit_FailureBeforeStreamRollsBack(t *testing.T) {
	api := &fakeAPI{
		completeFn: func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
			return nil, &APIError{Status: 429, Message: "You have used up your quota. Try again in 2 hours."}
		},
	}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-4"))

	err := c.Submit(context.Background(), "one more question")
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	// the optimistic entries are gone, the text survives for retry
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, defaultGreeting, snap.Transcript[0].Content)
	assert.Equal(t, "one more question", snap.PendingUserMsg)
}

func TestSubmit_MidStreamErrorSynthesizesAssistantEntry(t *testing.T) {
	api := &fakeAPI{
		completeFn: func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
			onChunk("partial ans")
			return nil, errors.New("provider stream failed")
		},
	}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-5"))

	err := c.Submit(context.Background(), "tell me things")
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, chat.Entry{Role: "user", Content: "tell me things"}, snap.Transcript[1])
	assert.Equal(t, "assistant", snap.Transcript[2].Role)
	assert.Equal(t, "Something went wrong while generating a response. Please try again.", snap.Transcript[2].Content)
}

func TestSubmit_DuplicateTextIsNoOp(t *testing.T) {
	api := &fakeAPI{
		messages: []chat.Entry{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-6"))

	require.NoError(t, c.Submit(context.Background(), "  hi "))
	assert.Equal(t, 0, api.completeCalls, "resubmitting the last user text must not send")
}

func TestSubmit_BusyWhileInFlight(t *testing.T) {
	var c *Controller
	var busyErr error
	api := &fakeAPI{}
	api.completeFn = func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
		// a second submit arriving while this one is in flight
		busyErr = c.Submit(context.Background(), "impatient follow-up")
		return &StreamResult{}, nil
	}
	c = NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-7"))

	require.NoError(t, c.Submit(context.Background(), "first question"))
	assert.ErrorIs(t, busyErr, ErrBusy)
	assert.Equal(t, 1, api.completeCalls)
}

func TestNavigate_RejectedWhileSendInFlight(t *testing.T) {
	var c *Controller
	var navErr error
	api := &fakeAPI{}
	api.completeFn = func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
		// a reload of the same chat arriving mid-send must not replace the
		// transcript under the streaming turn
		navErr = c.Navigate(context.Background(), chatID)
		onChunk("ANSWER")
		return &StreamResult{}, nil
	}
	c = NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-10"))

	require.NoError(t, c.Submit(context.Background(), "my question"))
	assert.ErrorIs(t, navErr, ErrBusy)

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, chat.Entry{Role: "assistant", Content: defaultGreeting}, snap.Transcript[0])
	assert.Equal(t, chat.Entry{Role: "user", Content: "my question"}, snap.Transcript[1])
	assert.Equal(t, chat.Entry{Role: "assistant", Content: "ANSWER"}, snap.Transcript[2])
}

func TestSubmit_GreetingNeverSentAsHistory(t *testing.T) {
	api := &fakeAPI{
		completeFn: func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
			onChunk("sure")
			return &StreamResult{}, nil
		},
	}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-8"))

	require.NoError(t, c.Submit(context.Background(), "hello"))
	assert.Empty(t, api.lastReq.PreviousConversations)
}

func TestSeedInitialMessage_OncePerChat(t *testing.T) {
	api := &fakeAPI{
		completeFn: func(chatID string, req CompleteRequest, onChunk func(string)) (*StreamResult, error) {
			onChunk("answer")
			return &StreamResult{}, nil
		},
	}
	c := NewController(ControllerConfig{API: api})
	require.NoError(t, c.Navigate(context.Background(), "chat-9"))

	require.NoError(t, c.SeedInitialMessage(context.Background(), "chat-9", "queued question"))
	require.NoError(t, c.SeedInitialMessage(context.Background(), "chat-9", "queued question"))

	assert.Equal(t, 1, api.completeCalls, "a re-render must not resend the seed")
}
