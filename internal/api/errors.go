package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/storymint/verification-engine/internal/license"
	"github.com/storymint/verification-engine/internal/minttoken"
)

// respondError writes the error envelope used by every endpoint:
// {success:false, error:<CODE>, message, ...extra}.
func respondError(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{
		"success": false,
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// writeServiceError maps typed service errors onto HTTP status codes in one
// place so handlers stay thin. Unknown errors become SERVER_ERROR and are
// logged; client errors pass their payload through.
func writeServiceError(c *gin.Context, err error) {
	var (
		validation *minttoken.ValidationError
		notFound   *minttoken.NotFoundError
		conflict   *minttoken.StateConflictError
		blocked    *minttoken.BlockedError
		licInvalid *license.ValidationError
	)

	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if validation.Code == minttoken.CodeValidationError {
			status = http.StatusUnprocessableEntity
		}
		respondError(c, status, validation.Code, validation.Message, nil)

	case errors.As(err, &notFound):
		respondError(c, http.StatusNotFound, minttoken.CodeTokenNotFound, notFound.Error(), nil)

	case errors.As(err, &conflict):
		extra := gin.H{"status": conflict.Status}
		if conflict.MintDetails != nil {
			extra["mintDetails"] = conflict.MintDetails
		}
		if conflict.License != nil {
			extra["license"] = conflict.License
		}
		if conflict.IPID != "" {
			extra["ipId"] = conflict.IPID
		}
		respondError(c, http.StatusConflict, conflict.Code, conflict.Message, extra)

	case errors.As(err, &blocked):
		respondError(c, http.StatusForbidden, minttoken.CodeSimilarityBlocked, blocked.Result.Message, gin.H{
			"similarityScore": blocked.Result.SimilarityScore,
			"topMatch":        blocked.Result.TopMatch,
			"matches":         blocked.Result.Matches,
			"llmAnalysis":     blocked.Result.LLMAnalysis,
		})

	case errors.As(err, &licInvalid):
		respondError(c, http.StatusUnprocessableEntity, minttoken.CodeValidationError, licInvalid.Message, nil)

	default:
		log.Printf("[API] Internal error: %v", err)
		respondError(c, http.StatusInternalServerError, "SERVER_ERROR", "internal server error", nil)
	}
}
