package handlers

import (
	"strconv"

	"github.com/saeid-a/ChambaBack/internal/services"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parseMessagePage reads ?before_seq=&limit=. Without either parameter the
// whole history is requested.
func parseMessagePage(beforeRaw, limitRaw string) (services.MessagePageRequest, error) {
	var page services.MessagePageRequest
	if beforeRaw == "" && limitRaw == "" {
		return page, nil
	}

	if beforeRaw != "" {
		before, err := strconv.ParseInt(beforeRaw, 10, 64)
		if err != nil || before <= 0 {
			return page, services.ErrInvalidInput
		}
		page.BeforeSeq = before
	}

	page.Limit = parsePositiveInt(limitRaw, defaultPageLimit)
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	return page, nil
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
