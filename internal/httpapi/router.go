package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanmaysingewar/betterindex/internal/config"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/handlers"
	"github.com/tanmaysingewar/betterindex/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// anonymous callers participate with a device identity; quota tiers
	// still apply
	identityGroup := r.Group("/")
	identityGroup.Use(middleware.Identity(cfg.JWTSecret))
	identityGroup.POST("/completions", h.Completions)
	identityGroup.GET("/messages", h.Messages)
	identityGroup.GET("/quota", h.Quota)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/chats", h.ListChats)

	return r
}
