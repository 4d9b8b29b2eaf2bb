package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tanmaysingewar/betterindex/internal/chat"
	"github.com/tanmaysingewar/betterindex/internal/config"
	"github.com/tanmaysingewar/betterindex/internal/quota"
	"github.com/tanmaysingewar/betterindex/internal/store/rabbitmq"
	"github.com/tanmaysingewar/betterindex/internal/user"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Users   *user.Service
	Ledger  quota.Ledger
	Rabbit  *rabbitmq.Publisher
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, users *user.Service, ledger quota.Ledger, rabbit *rabbitmq.Publisher) *Handler {
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chatSvc,
		Users:   users,
		Ledger:  ledger,
		Rabbit:  rabbit,
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
