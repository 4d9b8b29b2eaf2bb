package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tanmaysingewar/betterindex/internal/chat"
)

const (
	chatListFile = "chat_list.json"
	chatsSubdir  = "chats"

	// TopicChatList is published whenever the cached chat list changes.
	TopicChatList = "chat_list"
)

// TopicChat names the per-chat cache topic.
func TopicChat(chatID string) string { return "chat:" + chatID }

// ChatList is the singleton page-1 snapshot of the chat list. Caching any
// other page is never allowed; a blob recording one is corrupt.
type ChatList struct {
	Chats      []chat.ChatSummary `json:"chats"`
	Pagination chat.Pagination    `json:"pagination"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Cache mirrors server state on disk for instant paint and cross-process
// propagation. Blobs are revalidated on every read; anything failing shape
// checks is removed and reported absent.
type Cache struct {
	dir     string
	bus     *PubSub
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, chatsSubdir), 0o755); err != nil {
		return nil, err
	}

	c := &Cache{
		dir:  dir,
		bus:  NewPubSub(),
		done: make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Join(dir, chatsSubdir)); err != nil {
		_ = w.Close()
		return nil, err
	}
	c.watcher = w
	go c.watch()

	return c, nil
}

func (c *Cache) Close() error {
	close(c.done)
	return c.watcher.Close()
}

// watch republishes external file changes on the same topics local writes
// use, the cross-process analogue of a storage event.
func (c *Cache) watch() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			switch {
			case name == chatListFile:
				c.bus.Publish(TopicChatList)
			case strings.HasSuffix(name, ".json") && filepath.Base(filepath.Dir(ev.Name)) == chatsSubdir:
				c.bus.Publish(TopicChat(strings.TrimSuffix(name, ".json")))
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (c *Cache) Subscribe(topic string, fn func(topic string)) func() {
	return c.bus.Subscribe(topic, fn)
}

func (c *Cache) chatPath(chatID string) string {
	return filepath.Join(c.dir, chatsSubdir, chatID+".json")
}

// ReadChat returns the cached transcript for a chat, or absent. A corrupt
// blob is deleted on the way out.
func (c *Cache) ReadChat(chatID string) ([]chat.Entry, bool) {
	path := c.chatPath(chatID)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entries []chat.Entry
	if err := json.Unmarshal(b, &entries); err != nil || !validTranscript(entries) {
		_ = os.Remove(path)
		return nil, false
	}
	return entries, true
}

// WriteChat stores the definitive final transcript of a chat; partial stream
// frames never reach the cache.
func (c *Cache) WriteChat(chatID string, transcript []chat.Entry) error {
	b, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	if err := writeAtomic(c.chatPath(chatID), b); err != nil {
		return err
	}
	c.bus.Publish(TopicChat(chatID))
	return nil
}

func (c *Cache) listPath() string {
	return filepath.Join(c.dir, chatListFile)
}

func (c *Cache) ReadChatList() (*ChatList, bool) {
	path := c.listPath()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var list ChatList
	if err := json.Unmarshal(b, &list); err != nil || !validChatList(&list) {
		_ = os.Remove(path)
		return nil, false
	}
	return &list, true
}

// WriteChatList caches a chat-list page. Only page 1 is ever cached; other
// pages are silently not written.
func (c *Cache) WriteChatList(list ChatList) error {
	if list.Pagination.CurrentPage != 1 {
		return nil
	}
	list.UpdatedAt = time.Now()
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := writeAtomic(c.listPath(), b); err != nil {
		return err
	}
	c.bus.Publish(TopicChatList)
	return nil
}

// PrependChat merges a freshly titled chat into the cached list without a
// refetch. Listeners in this process hear about it synchronously.
func (c *Cache) PrependChat(entry chat.ChatSummary) error {
	list, ok := c.ReadChatList()
	if !ok {
		list = &ChatList{
			Pagination: chat.Pagination{CurrentPage: 1, PageSize: 15},
		}
	}

	merged := make([]chat.ChatSummary, 0, len(list.Chats)+1)
	merged = append(merged, entry)
	for _, e := range list.Chats {
		if e.ID != entry.ID {
			merged = append(merged, e)
		}
	}
	list.Chats = merged
	list.Pagination.TotalChats++

	return c.WriteChatList(*list)
}

func validTranscript(entries []chat.Entry) bool {
	for _, e := range entries {
		if e.Role != "user" && e.Role != "assistant" {
			return false
		}
	}
	return true
}

func validChatList(list *ChatList) bool {
	if list.Pagination.CurrentPage != 1 {
		return false
	}
	for _, e := range list.Chats {
		if e.ID == "" {
			return false
		}
	}
	return true
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
