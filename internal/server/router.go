package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tally/backend/internal/polls"
	"github.com/MarcoPoloResearchLab/tally/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "tally_user_id"

const (
	messagePollNotFound   = "Poll not found"
	messageAlreadyVoted   = "Already voted"
	messageInvalidOption  = "Invalid option"
	messageInvalidInput   = "Invalid input"
	messageUnauthorized   = "Unauthorized"
	messageBadCredentials = "Invalid credentials"
	messageEmailTaken     = "Email already registered"
	messageServerError    = "Server error"
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingPollsService = errors.New("polls service dependency required")
	errMissingRealtime     = errors.New("realtime dispatcher dependency required")
)

// TokenManager issues bearer tokens at registration/login and resolves them
// back to user ids on every authenticated request.
type TokenManager interface {
	IssueToken(userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	TokenManager TokenManager
	UsersService *users.Service
	PollsService *polls.Service
	Realtime     *RealtimeDispatcher
	Logger       *zap.Logger
	ClientOrigin string
}

// NewHTTPHandler builds the REST + SSE surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.PollsService == nil {
		return nil, errMissingPollsService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origin := deps.ClientOrigin
	if origin == "" {
		origin = "*"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{origin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		accounts: deps.UsersService,
		voting:   deps.PollsService,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)
	protected.POST("/polls", handler.handleCreatePoll)
	protected.GET("/polls", handler.handleListPolls)
	protected.GET("/polls/stream", handler.handleStream)
	protected.GET("/polls/user/me", handler.handleUserPolls)
	protected.GET("/polls/:id", handler.handleGetPoll)
	protected.POST("/polls/:id/vote", handler.handleVote)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	accounts *users.Service
	voting   *polls.Service
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      userPayload `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidInput})
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	switch {
	case errors.Is(err, users.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidInput})
		return
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"message": messageEmailTaken})
		return
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	h.respondSession(c, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidInput})
		return
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": messageBadCredentials})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	h.respondSession(c, account)
}

func (h *httpHandler) respondSession(c *gin.Context, account users.User) {
	token, expiresIn, err := h.tokens.IssueToken(account.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}
	c.JSON(http.StatusOK, sessionPayload{
		Token:     token,
		ExpiresIn: expiresIn,
		User:      buildUserPayload(account),
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	account, err := h.accounts.GetByID(c.Request.Context(), c.GetString(userIDContextKey))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": messageUnauthorized})
		return
	}
	if err != nil {
		h.logger.Error("failed to load account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}
	c.JSON(http.StatusOK, buildUserPayload(account))
}

type createPollPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	var request createPollPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidInput})
		return
	}

	snapshot, err := h.voting.CreatePoll(c.Request.Context(), c.GetString(userIDContextKey), request.Question, request.Options)
	if errors.Is(err, polls.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidInput})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}
	c.JSON(http.StatusOK, buildPollPayload(snapshot, nil))
}

func (h *httpHandler) handleListPolls(c *gin.Context) {
	snapshots, err := h.voting.ListPolls(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	creators, err := h.creatorRefs(c, snapshots)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	payloads := make([]pollPayload, 0, len(snapshots))
	for _, snapshot := range snapshots {
		payloads = append(payloads, buildPollPayload(snapshot, creators))
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleGetPoll(c *gin.Context) {
	snapshot, err := h.voting.GetPoll(c.Request.Context(), c.Param("id"))
	if errors.Is(err, polls.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": messagePollNotFound})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	creators, err := h.creatorRefs(c, []polls.Snapshot{snapshot})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}
	c.JSON(http.StatusOK, buildPollPayload(snapshot, creators))
}

type votePayload struct {
	OptionIndex *int `json:"optionIndex"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.OptionIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidOption})
		return
	}

	snapshot, err := h.voting.CastVote(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), *request.OptionIndex)
	switch {
	case errors.Is(err, polls.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": messagePollNotFound})
		return
	case errors.Is(err, polls.ErrAlreadyVoted):
		c.JSON(http.StatusBadRequest, gin.H{"message": messageAlreadyVoted})
		return
	case errors.Is(err, polls.ErrInvalidOption):
		c.JSON(http.StatusBadRequest, gin.H{"message": messageInvalidOption})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}
	c.JSON(http.StatusOK, buildPollPayload(snapshot, nil))
}

type userPollsPayload struct {
	Created []pollPayload `json:"created"`
	Voted   []pollPayload `json:"voted"`
}

func (h *httpHandler) handleUserPolls(c *gin.Context) {
	created, voted, err := h.voting.ListUserPolls(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	response := userPollsPayload{
		Created: make([]pollPayload, 0, len(created)),
		Voted:   make([]pollPayload, 0, len(voted)),
	}
	for _, snapshot := range created {
		response.Created = append(response.Created, buildPollPayload(snapshot, nil))
	}
	for _, snapshot := range voted {
		response.Voted = append(response.Voted, buildPollPayload(snapshot, nil))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) creatorRefs(c *gin.Context, snapshots []polls.Snapshot) (map[string]users.Ref, error) {
	seen := make(map[string]struct{}, len(snapshots))
	creatorIDs := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if _, ok := seen[snapshot.Poll.CreatedBy]; ok {
			continue
		}
		seen[snapshot.Poll.CreatedBy] = struct{}{}
		creatorIDs = append(creatorIDs, snapshot.Poll.CreatedBy)
	}
	refs, err := h.accounts.Refs(c.Request.Context(), creatorIDs)
	if err != nil {
		h.logger.Error("failed to resolve poll creators", zap.Error(err))
		return nil, err
	}
	return refs, nil
}

// authorizeRequest resolves the caller's bearer token to a user id. The token
// is read from the Authorization header, or from the access_token query
// parameter for the SSE stream (EventSource cannot set headers).
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": messageUnauthorized})
		return
	}

	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": messageUnauthorized})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}
