package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tanmaysingewar/betterindex/internal/chat"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/middleware"
	"github.com/tanmaysingewar/betterindex/internal/logger"
	"github.com/tanmaysingewar/betterindex/internal/quota"
)

// ListChats returns one page of the caller's chats, newest first. Bad page or
// limit values silently fall back to defaults.
func (h *Handler) ListChats(c *gin.Context) {
	identity, okk := middleware.CallerIdentity(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, pg, err := h.ChatSvc.ListChats(c.Request.Context(), identity.ID, page, limit)
	if err != nil {
		logger.Errorf("list chats failed identity=%s err=%v", identity.ID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if items == nil {
		items = []chat.ChatSummary{}
	}

	ok(c, gin.H{
		"chats":      items,
		"pagination": pg,
	})
}

// Messages returns a chat's flattened transcript. The read is ownership
// joined, so foreign chats are forbidden rather than leaked.
func (h *Handler) Messages(c *gin.Context) {
	identity, okk := middleware.CallerIdentity(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := strings.TrimSpace(c.Query("chatId"))
	if chatID == "" {
		fail(c, http.StatusBadRequest, 10010, "chatId required")
		return
	}

	entries, err := h.ChatSvc.Transcript(c.Request.Context(), chatID, identity.ID)
	if err != nil {
		if errors.Is(err, chat.ErrChatOwnership) {
			fail(c, http.StatusForbidden, 40302, "chat belongs to another user")
			return
		}
		logger.Errorf("transcript load failed chat_id=%s err=%v", chatID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if entries == nil {
		entries = []chat.Entry{}
	}

	c.JSON(http.StatusOK, entries)
}

// Quota reports the caller's remaining standard-class allowance for the
// current window without consuming a unit.
func (h *Handler) Quota(c *gin.Context) {
	identity, okk := middleware.CallerIdentity(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	remaining, err := h.Ledger.Remaining(c.Request.Context(), identity, quota.Standard)
	if err != nil {
		logger.Errorf("quota peek failed identity=%s err=%v", identity.ID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	ok(c, gin.H{"remaining": remaining})
}
