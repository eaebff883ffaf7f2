package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"buddygate/utils"
)

var supportedLanguages = map[string]bool{"en": true, "es": true}

// LocaleMiddleware detects and sets the request's locale. The mobile
// client sends an explicit lang query or header; Accept-Language is the
// fallback.
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := c.Query("lang")

		if lang == "" {
			lang = c.Get("X-App-Language")
		}

		if lang == "" {
			acceptLang := c.Get("Accept-Language")
			if strings.HasPrefix(acceptLang, "es") {
				lang = "es"
			} else {
				lang = "en"
			}
		}

		// Only allow supported languages
		if !supportedLanguages[lang] {
			lang = "en"
		}

		localizer := utils.GetLocalizer(lang)

		c.Locals("localizer", localizer)
		c.Locals("lang", lang)

		return c.Next()
	}
}
