package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tanmaysingewar/betterindex/internal/auth"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/middleware"
	"github.com/tanmaysingewar/betterindex/internal/user"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	u, err := h.Users.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email already exists)")
		return
	}

	token, err := auth.SignJWT(u.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	ok(c, gin.H{
		"id":    u.ID,
		"email": u.Email,
		"token": token,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, err := h.Users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrBadCredentials) {
			fail(c, http.StatusUnauthorized, 40110, "invalid email or password")
			return
		}
		fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	token, err := auth.SignJWT(u.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	ok(c, gin.H{
		"id":    u.ID,
		"email": u.Email,
		"token": token,
	})
}

func (h *Handler) Me(c *gin.Context) {
	v, okk := c.Get(middleware.UserIDKey)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	uid, okk := v.(uint64)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	u, err := h.Users.GetByID(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}

	ok(c, gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"created_at": u.CreatedAt,
	})
}
