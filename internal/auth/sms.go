package auth

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers verification codes to a phone number.
type Sender interface {
	SendAuthCode(ctx context.Context, phoneNumber, code string) error
}

// LogSender writes codes to the log instead of an SMS gateway. Used in
// development and whenever no gateway credentials are configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a Sender backed by the provided logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// SendAuthCode logs the code that would have been sent.
func (s *LogSender) SendAuthCode(_ context.Context, phoneNumber, code string) error {
	s.logger.Info("sms verification code issued",
		zap.String("phone_number", FormatInternational(phoneNumber)),
		zap.String("code", code))
	return nil
}

// FormatInternational converts a Korean mobile number into +82 form.
// Numbers already carrying a country prefix pass through unchanged.
func FormatInternational(phoneNumber string) string {
	normalized := NormalizePhoneNumber(phoneNumber)
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	if strings.HasPrefix(normalized, "0") {
		return "+82" + normalized[1:]
	}
	return normalized
}

// NormalizePhoneNumber strips separators so 010-1234-5678 and 01012345678
// refer to the same subscriber.
func NormalizePhoneNumber(phoneNumber string) string {
	replacer := strings.NewReplacer("-", "", " ", "")
	return replacer.Replace(strings.TrimSpace(phoneNumber))
}
