package bot

import (
	"fmt"
	"strconv"
	"strings"

	"listing_bot/internal/model"
)

const payloadPrefix = "subscription"

// FormatPayload builds the invoice payload carrying the paying chat and the
// status to apply after payment.
func FormatPayload(chatID int64, status model.Status) string {
	return fmt.Sprintf("%s:%d:%s", payloadPrefix, chatID, status)
}

// ParsePayload parses an invoice payload produced by FormatPayload.
func ParsePayload(payload string) (int64, model.Status, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 || parts[0] != payloadPrefix {
		return 0, "", fmt.Errorf("malformed payload %q", payload)
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid chat ID in payload %q: %w", payload, err)
	}
	status := model.Status(parts[2])
	if status != model.StatusRunning && status != model.StatusStopped {
		return 0, "", fmt.Errorf("invalid status in payload %q", payload)
	}
	return chatID, status, nil
}

// ParseFilterURL returns the first http(s) URL in text.
func ParseFilterURL(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		lower := strings.ToLower(field)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return field, true
		}
	}
	return "", false
}
