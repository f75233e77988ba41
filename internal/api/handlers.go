package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nkozdemir/character-chat-app/internal/auth"
	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/persona"
	"github.com/nkozdemir/character-chat-app/internal/store"
	"github.com/nkozdemir/character-chat-app/internal/upstream"
)

// Completions is the slice of the upstream client the relay needs.
type Completions interface {
	Configured() bool
	StreamCompletion(ctx context.Context, messages []upstream.Message) (io.ReadCloser, error)
}

// Handler wires HTTP routes to the store, the auth service and the upstream
// completion provider.
type Handler struct {
	store    *store.Store
	auth     *auth.Service
	upstream Completions
	log      *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(st *store.Store, authService *auth.Service, completions Completions, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:    st,
		auth:     authService,
		upstream: completions,
		log:      log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/chat", h.relayChat)
	api.GET("/characters", h.listCharacters)
	api.POST("/auth/register", h.registerUser)
	api.POST("/auth/login", h.loginUser)
	api.POST("/auth/reset-request", h.requestPasswordReset)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/auth/logout", h.logoutUser)
	authed.GET("/auth/me", h.currentUser)
	authed.GET("/chats", h.listChats)
	authed.POST("/chats/:chat_id", h.ensureChat)
	authed.GET("/chats/:chat_id/messages", h.getChatMessages)
	authed.DELETE("/chats/:chat_id", h.deleteChat)
	authed.POST("/chats/:chat_id/messages", h.appendChatMessage)
}

// Recovery replaces gin's default recovery so a deliberate mid-stream abort
// still tears the connection down instead of being converted into a 500.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(r)
				}
				log.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookie(c, authToken)
	c.JSON(http.StatusCreated, gin.H{
		"user":       user,
		"auth_token": authToken,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookie(c, authToken)
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset request failed"})
		return
	}
	// Always accepted so the endpoint does not leak which emails exist.
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

func (h *Handler) listCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"characters": persona.All()})
}

func (h *Handler) listChats(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chats, err := h.store.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if chats == nil {
		chats = make([]models.ChatSession, 0)
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) ensureChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	p, ok := persona.Get(c.Param("chat_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown character"})
		return
	}
	session, err := h.store.EnsureSession(c.Request.Context(), userID, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": session})
}

func (h *Handler) getChatMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")
	chat, err := h.store.GetChat(c.Request.Context(), userID, chatID)
	if err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), userID, chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     chat,
		"messages": messages,
	})
}

type appendMessageRequest struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func (h *Handler) appendChatMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be user or assistant"})
		return
	}
	message, err := h.store.AppendMessage(c.Request.Context(), userID, c.Param("chat_id"), req.Role, req.Content)
	if err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}

func (h *Handler) deleteChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteSession(c.Request.Context(), userID, c.Param("chat_id")); err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookie(c *gin.Context, authToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearAuthCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
