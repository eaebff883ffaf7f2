package api

import (
	"github.com/gofiber/fiber/v2"

	"buddygate/utils"
)

// I18nHandler handles i18n-related requests
type I18nHandler struct{}

// GetTranslations returns the notice strings for the mobile client's
// requested language.
func (h *I18nHandler) GetTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if lang == "" {
		lang = "en"
	}

	// Only allow supported languages
	if lang != "en" && lang != "es" {
		lang = "en"
	}

	localizer := utils.GetLocalizer(lang)

	translations := map[string]string{
		"error_auth_required":    utils.T(localizer, "error_auth_required"),
		"error_send_failed":      utils.T(localizer, "error_send_failed"),
		"error_thread_not_found": utils.T(localizer, "error_thread_not_found"),
		"error_rate_limited":     utils.T(localizer, "error_rate_limited"),
		"error_404":              utils.T(localizer, "error_404"),
		"notice_marked_read":     utils.T(localizer, "notice_marked_read"),
	}

	return c.JSON(translations)
}
