package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/pkg/response"
	"github.com/jobportal/backend/pkg/utils"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	cost   int
	logger *zap.Logger
}

// NewHandler creates an auth handler. cost is the bcrypt cost new password hashes are written at.
func NewHandler(repo *Repository, jwt *JWTService, cost int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, cost: cost, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if utils.NeedsRehash(user.Password, h.cost) {
		h.rehash(c, user.ID, req.Password)
	}

	token, err := h.jwt.Generate(user.ID, user.Email, string(user.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("login", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// rehash upgrades a stored hash to the configured cost. Failure does not fail the login.
func (h *Handler) rehash(c *gin.Context, id uuid.UUID, password string) {
	hash, err := utils.HashPassword(password, h.cost)
	if err == nil {
		err = h.repo.UpdatePasswordHash(c.Request.Context(), id, hash)
	}
	if err != nil {
		h.logger.Warn("password rehash", zap.String("user_id", id.String()), zap.Error(err))
	}
}

// Me handles GET /auth/me. The user ID is read from the context key set by the JWT middleware.
func (h *Handler) Me(contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Get(contextKey)
		userID, ok := id.(uuid.UUID)
		if !ok {
			response.Unauthorized(c, "missing user context")
			return
		}
		user, err := h.repo.GetByID(c.Request.Context(), userID)
		if err != nil {
			response.Internal(c, "failed to load user")
			return
		}
		if user == nil {
			response.NotFound(c, "user not found")
			return
		}
		response.OK(c, user.ToPublic())
	}
}
