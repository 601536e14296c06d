// Package validation checks control messages sent by stream clients.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/opd-ai/go-contagion/pkg/config"
)

// Message size and content limits
const (
	MaxMessageSize     = 4 * 1024
	MaxPresetNameLen   = 64
	MessageTypeRestart = "restart"
)

// ErrRateLimited is returned when a client sends control messages too fast
var ErrRateLimited = errors.New("rate limit exceeded")

var validPresetChars = regexp.MustCompile(`^[a-z0-9\-]+$`)

// ControlValidator validates raw control messages and rate limits them per
// client.
type ControlValidator struct {
	rateLimiter *RateLimiter
}

// NewControlValidator creates a validator allowing ratePerSecond messages per
// client with bursts of up to burst messages.
func NewControlValidator(ratePerSecond float64, burst int) *ControlValidator {
	return &ControlValidator{
		rateLimiter: NewRateLimiter(ratePerSecond, burst),
	}
}

// Close releases resources used by the validator
func (v *ControlValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// Forget drops the rate limiting state of a disconnected client
func (v *ControlValidator) Forget(clientID string) {
	v.rateLimiter.Forget(clientID)
}

// ValidateMessage checks size, JSON syntax and the client's rate limit
func (v *ControlValidator) ValidateMessage(data []byte, clientID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON format")
	}

	if !v.rateLimiter.Allow(clientID) {
		return fmt.Errorf("%w: client %s", ErrRateLimited, clientID)
	}

	return nil
}

// ValidateMessageType accepts the control message types the server handles
func ValidateMessageType(messageType string) error {
	switch messageType {
	case MessageTypeRestart:
		return nil
	case "":
		return fmt.Errorf("message type cannot be empty")
	default:
		return fmt.Errorf("unknown message type: %q", messageType)
	}
}

// ValidatePresetName normalizes a preset name. An empty name is valid and
// means the current configuration is kept.
func ValidatePresetName(name string) (string, error) {
	if len(name) > MaxPresetNameLen {
		return "", fmt.Errorf("preset name too long: %d characters (max %d)", len(name), MaxPresetNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("preset name contains invalid UTF-8 characters")
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", nil
	}

	if !validPresetChars.MatchString(normalized) {
		return "", fmt.Errorf("preset name contains invalid characters (only letters, digits and hyphens allowed)")
	}

	if !config.IsPreset(normalized) {
		return "", fmt.Errorf("unknown preset %q (available: %s)", normalized, strings.Join(config.PresetNames(), ", "))
	}

	return normalized, nil
}
