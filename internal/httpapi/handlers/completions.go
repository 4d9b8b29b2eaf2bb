package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tanmaysingewar/betterindex/internal/ai"
	"github.com/tanmaysingewar/betterindex/internal/chat"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/middleware"
	"github.com/tanmaysingewar/betterindex/internal/logger"
	"github.com/tanmaysingewar/betterindex/internal/quota"
	"github.com/tanmaysingewar/betterindex/internal/relay"
	"github.com/tanmaysingewar/betterindex/internal/store/rabbitmq"
)

const maxMessageLen = 32 * 1024

type completionReq struct {
	Message               string       `json:"message"`
	PreviousConversations []chat.Entry `json:"previous_conversations"`
	Model                 string       `json:"model"`
	SearchEnabled         bool         `json:"search_enabled"`
	Attachment            *string      `json:"attachment"`
}

// Completions handles one streaming conversation turn. Admission order:
// validation, identity, quota, chat resolution, then the provider call.
func (h *Handler) Completions(c *gin.Context) {
	identity, okk := middleware.CallerIdentity(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := strings.TrimSpace(c.GetHeader("X-Chat-ID"))
	if chatID == "" {
		fail(c, http.StatusBadRequest, 10010, "X-Chat-ID header required")
		return
	}
	edited := c.GetHeader("X-Edited-Message") != ""
	shared := c.GetHeader("X-Shared") != ""

	var req completionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, 10011, "message required")
		return
	}
	if len(req.Message) > maxMessageLen {
		fail(c, http.StatusBadRequest, 10012, "message too long")
		return
	}

	class := quota.Standard
	if h.Cfg.IsPremiumModel(req.Model) {
		class = quota.Premium
	}

	// quota admission consumes one unit; bookkeeping never runs before this
	decision, err := h.Ledger.Admit(c.Request.Context(), identity, class)
	if err != nil {
		if errors.Is(err, quota.ErrSignInRequired) {
			fail(c, http.StatusForbidden, 40301, "this model requires sign-in")
			return
		}
		logger.Errorf("quota admit failed identity=%s err=%v", identity.ID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if !decision.Allowed {
		fail(c, http.StatusTooManyRequests, 42901, quota.DenyMessage(decision.RetryAfter))
		return
	}

	resolution, err := h.ChatSvc.Resolve(c.Request.Context(), chatID, identity.ID, chat.ResolveOptions{
		Edited:       edited,
		FirstMessage: req.Message,
	})
	if err != nil {
		if errors.Is(err, chat.ErrChatOwnership) {
			fail(c, http.StatusForbidden, 40302, "chat belongs to another user")
			return
		}
		logger.Errorf("chat resolve failed chat_id=%s identity=%s err=%v", chatID, identity.ID, err)
		fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}

	// Client-sent history is trusted only for brand-new chats or explicitly
	// shared imports, where it becomes the transcript of record. Anything
	// else uses server-held history.
	var history []chat.Entry
	if resolution.New || shared {
		history = req.PreviousConversations
		if len(history) > 0 {
			h.enqueueBatch(c, chatID, identity.ID, history, shared)
		}
	} else {
		if len(req.PreviousConversations) > 0 {
			logger.Warnf("ignoring client history for existing chat chat_id=%s", chatID)
		}
		history, err = h.ChatSvc.Transcript(c.Request.Context(), chatID, identity.ID)
		if err != nil {
			logger.Errorf("history load failed chat_id=%s err=%v", chatID, err)
			fail(c, http.StatusInternalServerError, 50003, "internal error")
			return
		}
	}

	provider, err := h.ChatSvc.Provider(c.Request.Context(), req.Model)
	if err != nil {
		fail(c, http.StatusBadRequest, 10013, "unknown model or provider")
		return
	}
	sp, okk := provider.(ai.StreamProvider)
	if !okk {
		fail(c, http.StatusInternalServerError, 50004, "provider does not support streaming")
		return
	}
	if req.SearchEnabled {
		if s, okk := provider.(ai.Searchable); okk {
			s.EnableWebSearch()
		} else {
			logger.Debugf("search requested but provider cannot search chat_id=%s", chatID)
		}
	}

	providerMsgs := make([]ai.Message, 0, len(history)+1)
	for _, e := range history {
		providerMsgs = append(providerMsgs, ai.Message{Role: e.Role, Content: e.Content})
	}
	providerMsgs = append(providerMsgs, ai.Message{Role: "user", Content: req.Message})

	// SSE headers; the title rides a response header so the client has it
	// before the first byte
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Header("X-Title", resolution.Title)
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"flusher not supported\"}\n\n")
		return
	}

	ctx := c.Request.Context()
	chunks, errs := sp.StreamChat(ctx, providerMsgs)

	sw := &sseChunkWriter{w: c.Writer, flusher: flusher}
	rl := relay.New(sw, nil)
	fullText, relayErr := rl.Run(ctx, chunks, errs)

	if relayErr != nil {
		// client aborts propagate as ctx errors; the upstream read stops here
		logger.Warnf("stream ended with error chat_id=%s identity=%s err=%v", chatID, identity.ID, relayErr)
		writeEvent(c.Writer, flusher, "error", gin.H{"message": "provider stream failed"})
		return
	}

	// durability is best-effort secondary to responsiveness: the user already
	// has the answer, so a failed write is logged, not surfaced
	if err := h.ChatSvc.SaveTurn(ctx, chatID, req.Message, fullText, req.Attachment); err != nil {
		logger.Errorf("turn save failed chat_id=%s err=%v", chatID, err)
	}

	writeEvent(c.Writer, flusher, "done", gin.H{"title": resolution.Title})
}

// enqueueBatch hands client-held turns to the persistence queue. Failures are
// logged; the live turn's own path never blocks on the batch.
func (h *Handler) enqueueBatch(c *gin.Context, chatID, userID string, entries []chat.Entry, shared bool) {
	if h.Rabbit == nil {
		if err := h.ChatSvc.SaveEntries(c.Request.Context(), chatID, entries); err != nil {
			logger.Errorf("inline batch save failed chat_id=%s err=%v", chatID, err)
		}
		return
	}
	err := h.Rabbit.PublishBatch(c.Request.Context(), rabbitmq.TurnBatch{
		ChatID:  chatID,
		UserID:  userID,
		Entries: entries,
	})
	if err != nil {
		logger.Errorf("batch publish failed chat_id=%s shared=%v err=%v", chatID, shared, err)
	}
}

// sseChunkWriter frames relay bytes as chunk events.
type sseChunkWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func (s *sseChunkWriter) Write(p []byte) (int, error) {
	b, err := json.Marshal(gin.H{"delta": string(p)})
	if err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintf(s.w, "event: chunk\ndata: %s\n\n", b); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

func writeEvent(w gin.ResponseWriter, flusher http.Flusher, event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	flusher.Flush()
}
