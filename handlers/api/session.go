package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"buddygate/config"
	"buddygate/messaging"
	"buddygate/models"
	"buddygate/storage"
	"buddygate/utils"
	"buddygate/wordpress"
)

const sessionLocal = "session"

// SessionMiddleware authenticates requests with the gateway JWT and
// attaches the user's messaging session. A session evicted from memory is
// rebuilt from the persisted upstream token; a missing token means the
// user must sign in again.
func SessionMiddleware(cfg *config.Config, tokens *storage.TokenStore, sessions *messaging.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, displayName, err := parseGatewayToken(c.Get("Authorization"), cfg.JWT.Secret)
		if err != nil {
			return authRequired(c, err)
		}

		session := sessions.Get(userID)
		if session == nil {
			upstreamToken, err := tokens.GetToken(userID)
			if err != nil || upstreamToken == "" {
				return authRequired(c, err)
			}

			client := wordpress.NewClient(&cfg.WordPress, upstreamToken)
			members := wordpress.NewMemberDirectory(client)
			me := models.Participant{UserID: userID, DisplayName: displayName}
			session = buildSession(cfg, client, members, me)
			sessions.Put(session)
			utils.Log.Debug("rebuilt session for user %d from persisted token", userID)
		}

		c.Locals(sessionLocal, session)
		return c.Next()
	}
}

// CurrentSession returns the request's messaging session, or nil.
func CurrentSession(c *fiber.Ctx) *messaging.Session {
	session, _ := c.Locals(sessionLocal).(*messaging.Session)
	return session
}

func parseGatewayToken(header, secret string) (int, string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if raw == "" {
		return 0, "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", fmt.Errorf("unexpected claims type")
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return 0, "", fmt.Errorf("missing subject claim")
	}
	name, _ := claims["name"].(string)
	return int(sub), name, nil
}

func authRequired(c *fiber.Ctx, err error) error {
	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	return utils.UnauthorizedError(utils.T(localizer, "error_auth_required"), err)
}
