package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared across components.
const (
	FieldProvider  = "ai_provider"
	FieldModel     = "ai_model"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldUserType  = "user_type"
)

// pairs turns alternating keys and values into string fields. A pair whose key
// or value is blank after trimming is skipped.
func pairs(kv ...string) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, value := strings.TrimSpace(kv[i]), strings.TrimSpace(kv[i+1])
		if key == "" || value == "" {
			continue
		}
		fields = append(fields, zap.String(key, value))
	}
	return fields
}

// WithFields attaches fields to logger. A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// Component returns a named child logger, tolerating a nil parent.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return WithFields(logger).Named(name)
}

// AIFields names the language model provider and model behind a call.
func AIFields(provider, model string) []zap.Field {
	return pairs(FieldProvider, provider, FieldModel, model)
}

// WithAI is WithFields with AIFields.
func WithAI(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, AIFields(provider, model)...)
}

// RequestFields identifies one HTTP request.
func RequestFields(requestID string) []zap.Field {
	return pairs(FieldRequestID, requestID)
}

// UserFields identifies an authenticated caller.
func UserFields(userID, userType string) []zap.Field {
	return pairs(FieldUserID, userID, FieldUserType, userType)
}
