package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"buddygate/config"
	"buddygate/messaging"
	"buddygate/models"
	"buddygate/storage"
	"buddygate/utils"
	"buddygate/wordpress"
)

// AuthHandler signs users in against the WordPress JWT auth plugin and
// manages their gateway sessions.
type AuthHandler struct {
	config   *config.Config
	tokens   *storage.TokenStore
	sessions *messaging.Registry
	validate *validator.Validate
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, tokens *storage.TokenStore, sessions *messaging.Registry) *AuthHandler {
	return &AuthHandler{
		config:   cfg,
		tokens:   tokens,
		sessions: sessions,
		validate: validator.New(),
	}
}

// LoginRequest carries WordPress credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin exchanges WordPress credentials for a gateway session. The
// upstream bearer token is persisted; conversation state is not.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return utils.BadRequestError("Username and password are required", err)
	}

	client := wordpress.NewClient(&h.config.WordPress, "")
	upstreamToken, err := client.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	client.SetToken(upstreamToken)

	members := wordpress.NewMemberDirectory(client)
	me, err := members.Me(c.Context())
	if err != nil {
		return err
	}

	if err := h.tokens.StoreToken(me.UserID, upstreamToken); err != nil {
		return utils.InternalServerError("Failed to persist session", err)
	}

	session := buildSession(h.config, client, members, *me)
	h.sessions.Put(session)

	token, err := GenerateToken(me.UserID, me.DisplayName, h.config.JWT.Secret, h.config.JWT.ExpiryHour)
	if err != nil {
		return utils.InternalServerError("Failed to create authentication token", err)
	}

	utils.Log.Info("user %d signed in", me.UserID)

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
		"user":    me,
	})
}

// HandleLogout drops the session and the persisted upstream token.
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	session := CurrentSession(c)
	if session == nil {
		return utils.UnauthorizedError("Not signed in", nil)
	}

	h.sessions.Evict(session.UserID)
	if err := h.tokens.DeleteToken(session.UserID); err != nil {
		utils.Log.Warn("failed to delete token for user %d: %v", session.UserID, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// buildSession wires a messaging session for an authenticated member.
func buildSession(cfg *config.Config, client *wordpress.Client, members *wordpress.MemberDirectory, me models.Participant) *messaging.Session {
	lookup := func(userID int) *models.Participant {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.WordPress.Timeout())
		defer cancel()
		return members.Lookup(ctx, userID)
	}

	return &messaging.Session{
		UserID:  me.UserID,
		Me:      me,
		Client:  client,
		Members: members,
		Store:   messaging.NewStore(me.UserID, client, lookup, cfg.WordPress.RefetchDelayDuration()),
	}
}

// GenerateToken mints a gateway session JWT.
func GenerateToken(userID int, displayName, secret string, expiryHours int) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"name": displayName,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Duration(expiryHours) * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
