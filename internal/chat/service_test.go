package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tanmaysingewar/betterindex/internal/ai"
)

var testDBSeq atomic.Int64

type fakeProvider struct {
	title string
	err   error
	calls int
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	_ = messages
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.title, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// a uniquely named shared-cache db keeps pooled connections on one
	// database while isolating tests from each other
	dsn := fmt.Sprintf("file:chat_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Chat{}, &Turn{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov *fakeProvider) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewService(NewRepo(db), reg, "fake", "", time.Second)
}

func TestResolve_NewChatCreatesRowWithTitle(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: `"Trip Planning"`}
	svc := newTestService(t, db, prov)

	res, err := svc.Resolve(context.Background(), "chat-one", "user:1", ResolveOptions{FirstMessage: "help me plan a trip"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.New {
		t.Fatalf("expected New")
	}
	if res.Title != "Trip Planning" {
		t.Fatalf("unexpected title: %q", res.Title)
	}

	var c Chat
	if err := db.First(&c, "id = ?", "chat-one").Error; err != nil {
		t.Fatalf("chat row: %v", err)
	}
	if c.UserID != "user:1" {
		t.Fatalf("unexpected owner: %q", c.UserID)
	}
}

func TestResolve_ExistingOwnerSkipsTitleCall(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "First"}
	svc := newTestService(t, db, prov)

	if _, err := svc.Resolve(context.Background(), "chat-two", "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	res, err := svc.Resolve(context.Background(), "chat-two", "user:1", ResolveOptions{FirstMessage: "again"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.New {
		t.Fatalf("expected existing chat")
	}
	if res.Title != "First" {
		t.Fatalf("unexpected title: %q", res.Title)
	}
	if prov.calls != 1 {
		t.Fatalf("title generated %d times, want 1", prov.calls)
	}
}

func TestResolve_ForeignChatIsForbidden(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "Mine"}
	svc := newTestService(t, db, prov)

	if _, err := svc.Resolve(context.Background(), "chat-three", "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	prov.calls = 0

	_, err := svc.Resolve(context.Background(), "chat-three", "user:2", ResolveOptions{FirstMessage: "hi"})
	if !errors.Is(err, ErrChatOwnership) {
		t.Fatalf("expected ErrChatOwnership, got %v", err)
	}
	if prov.calls != 0 {
		t.Fatalf("no provider call may follow an ownership error")
	}
}

func TestResolve_EditedRestartsChat(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "Old Title"}
	svc := newTestService(t, db, prov)

	ctx := context.Background()
	if _, err := svc.Resolve(ctx, "chat-four", "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	if err := svc.SaveTurn(ctx, "chat-four", "hi", "hello there", nil); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	prov.title = "New Title"
	res, err := svc.Resolve(ctx, "chat-four", "user:1", ResolveOptions{Edited: true, FirstMessage: "reworded"})
	if err != nil {
		t.Fatalf("edited resolve: %v", err)
	}
	if !res.New || res.Title != "New Title" {
		t.Fatalf("expected restart as new, got %+v", res)
	}

	var turnCount int64
	if err := db.Model(&Turn{}).Where("chat_id = ?", "chat-four").Count(&turnCount).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if turnCount != 0 {
		t.Fatalf("expected 0 turns after edit restart, got %d", turnCount)
	}
}

func TestResolve_TitleFallbackOnProviderFailure(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{err: errors.New("provider down")}
	svc := newTestService(t, db, prov)

	res, err := svc.Resolve(context.Background(), "chat12345", "user:1", ResolveOptions{FirstMessage: "hi"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Title != "chat-chat1234" {
		t.Fatalf("unexpected fallback title: %q", res.Title)
	}
}

func TestSaveTurn_SkipsEmptyResponse(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "T"}
	svc := newTestService(t, db, prov)

	ctx := context.Background()
	if _, err := svc.Resolve(ctx, "chat-five", "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.SaveTurn(ctx, "chat-five", "hi", "   \n\t ", nil); err != nil {
		t.Fatalf("save turn: %v", err)
	}

	var turnCount int64
	if err := db.Model(&Turn{}).Count(&turnCount).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if turnCount != 0 {
		t.Fatalf("empty response must not persist a turn")
	}

	// the chat row with its generated title still exists
	var c Chat
	if err := db.First(&c, "id = ?", "chat-five").Error; err != nil {
		t.Fatalf("chat row should survive: %v", err)
	}
}

func TestTranscript_OwnershipJoin(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "T"}
	svc := newTestService(t, db, prov)

	ctx := context.Background()
	if _, err := svc.Resolve(ctx, "chat-six", "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.SaveTurn(ctx, "chat-six", "first question", "first answer", nil); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if err := svc.SaveTurn(ctx, "chat-six", "second question", "second answer", nil); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	entries, err := svc.Transcript(ctx, "chat-six", "user:1")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	want := []Entry{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "second answer"},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	// a guessed chat id never leaks another user's turns
	if _, err := svc.Transcript(ctx, "chat-six", "user:2"); !errors.Is(err, ErrChatOwnership) {
		t.Fatalf("expected ErrChatOwnership, got %v", err)
	}
}

func TestListChats_InvalidParamsFallBackToDefaults(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{title: "T"}
	svc := newTestService(t, db, prov)

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := svc.Resolve(ctx, id, "user:1", ResolveOptions{FirstMessage: "hi"}); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}

	items, pg, err := svc.ListChats(ctx, "user:1", -3, 0)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if pg.CurrentPage != 1 || pg.PageSize != 15 {
		t.Fatalf("expected default pagination, got %+v", pg)
	}
	if pg.TotalChats != 3 || pg.TotalPages != 1 {
		t.Fatalf("unexpected totals: %+v", pg)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(items))
	}
}

func TestPairEntries_DropsDanglingHalves(t *testing.T) {
	entries := []Entry{
		{Role: "assistant", Content: "greeting without a user turn"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
		{Role: "assistant", Content: "   "},
		{Role: "user", Content: "dangling"},
	}

	turns, err := PairEntries("chat-x", entries)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].UserMessage != "q1" || turns[0].BotResponse != "a1" {
		t.Fatalf("unexpected turn: %+v", turns[0])
	}
}
