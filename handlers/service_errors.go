package handlers

import (
	"errors"
	"net/http"

	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. Only the domain message
// reaches the client; wrapped causes are logged.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := services.PublicMessage(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		// every not-found answer is byte-identical regardless of cause
		writeErr = utils.WriteNotFound(w, services.ErrResourceNotFound.Message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, nil)

	case services.IsUnauthorizedError(err):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, message, nil)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var writeErr error
	switch {
	case utils.IsValidationError(err):
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		writeErr = utils.WriteBadRequest(w, "Validation failed", details)
	case errors.Is(err, utils.ErrInvalidBody):
		writeErr = utils.WriteBadRequest(w, "Invalid request body", nil)
	default:
		writeErr = utils.WriteBadRequest(w, "Invalid request", nil)
	}
	if writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation, writing
// the 400 itself on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}
