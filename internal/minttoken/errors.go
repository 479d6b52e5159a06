package minttoken

import (
	"fmt"

	"github.com/storymint/verification-engine/pkg/models"
)

// API error codes surfaced through the HTTP layer. The service attaches
// them to typed errors so the transport can map status codes in one place.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeDuplicateContent  = "DUPLICATE_CONTENT"
	CodeSimilarityBlocked = "SIMILARITY_BLOCKED"
	CodeTokenNotFound     = "TOKEN_NOT_FOUND"
	CodeTokenAlreadyUsed  = "TOKEN_ALREADY_USED"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeAlreadyFinalized  = "ALREADY_FINALIZED"
)

// ValidationError covers missing or malformed client input. Code is either
// INVALID_INPUT (missing) or VALIDATION_ERROR (present but invalid).
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError means no authorization exists for the nonce.
type NotFoundError struct {
	Nonce uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no mint authorization found for nonce %d", e.Nonce)
}

// StateConflictError is returned when a transition is attempted from an
// illegal state. It carries the observed state and, where applicable, the
// winner's mint details or license snapshot so losers of a race see the
// same payload the winner produced.
type StateConflictError struct {
	Code        string // DUPLICATE_CONTENT | TOKEN_ALREADY_USED | INVALID_STATUS | ALREADY_FINALIZED
	Status      string // the record's current state
	Message     string
	MintDetails *models.MintDetails
	License     *models.LicenseSnapshot
	IPID        string
}

func (e *StateConflictError) Error() string { return e.Message }

// BlockedError is the policy denial for admissions the similarity engine
// rejected. The full similarity payload rides along for the response body.
type BlockedError struct {
	Result *models.SimilarityResult
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("similarity check blocked minting: %s", e.Result.Message)
}
