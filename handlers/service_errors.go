package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/services"
	"github.com/upb/audit-quota/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := domainMessage(err)

	var writeErr error
	switch {
	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsQuotaExceededError(err):
		writeErr = utils.WriteQuotaExceeded(w, utils.QuotaExceededResponse{
			Message:          message,
			Quota:            detailInt(details, "quota"),
			Used:             detailInt(details, "used"),
			Requested:        detailInt(details, "requested"),
			Available:        detailInt(details, "available"),
			SubscriptionTier: detailString(details, "subscription_tier"),
		})

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsConflictError(err):
		writeErr = utils.WriteError(w, http.StatusConflict, message, details)

	case services.IsStoreUnavailableError(err):
		logger.Warn("record store unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Record store unavailable")

	case services.IsExternalError(err):
		// Workflow engine failures are mapped to 502 Bad Gateway
		logger.Error("external collaborator error", zap.Error(err))
		writeErr = utils.WriteError(w, http.StatusBadGateway, "Upstream service error", nil)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
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

// HandleValidationError handles errors from request decoding and struct validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		details := map[string]interface{}{"fields": utils.GetValidationFields(err)}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// domainMessage returns the client-facing message of a domain error
func domainMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func detailInt(details map[string]interface{}, key string) int {
	if v, ok := details[key].(int); ok {
		return v
	}
	return 0
}

func detailString(details map[string]interface{}, key string) string {
	if v, ok := details[key].(string); ok {
		return v
	}
	return ""
}
