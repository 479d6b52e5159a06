package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/storymint/verification-engine/internal/minttoken"
)

// handleGenerateMintToken issues a new mint authorization.
// POST /api/verification/generate-mint-token
func (h *APIHandler) handleGenerateMintToken(c *gin.Context) {
	var req struct {
		CreatorAddress string `json:"creatorAddress"`
		ContentHash    string `json:"contentHash"`
		IPMetadataURI  string `json:"ipMetadataURI"`
		NFTMetadataURI string `json:"nftMetadataURI"`
		AssetType      string `json:"assetType"`
		SessionID      string `json:"sessionId"`
		FingerprintID  string `json:"fingerprintId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "Invalid request body", nil)
		return
	}

	result, err := h.tokens.Issue(c.Request.Context(), minttoken.IssueRequest{
		CreatorAddress: req.CreatorAddress,
		ContentHash:    req.ContentHash,
		IPMetadataURI:  req.IPMetadataURI,
		NFTMetadataURI: req.NFTMetadataURI,
		AssetType:      req.AssetType,
		SessionID:      req.SessionID,
		FingerprintID:  req.FingerprintID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.wsHub.BroadcastEvent("token_issued", gin.H{
		"nonce":           result.Nonce,
		"creatorAddress":  req.CreatorAddress,
		"assetType":       req.AssetType,
		"similarityScore": result.Similarity.SimilarityScore,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"signature":  result.Signature,
		"nonce":      result.Nonce,
		"expiresAt":  result.ExpiresAt,
		"expiresIn":  result.ExpiresIn,
		"similarity": result.Similarity,
	})
}

// handleTokenStatus reports authorization state, lazily expiring overdue
// pending tokens.
// GET /api/verification/token/:nonce/status
func (h *APIHandler) handleTokenStatus(c *gin.Context) {
	nonce, ok := parseNonce(c, c.Param("nonce"))
	if !ok {
		return
	}

	result, err := h.tokens.Status(c.Request.Context(), nonce)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	body := gin.H{
		"success":   true,
		"nonce":     result.Nonce,
		"status":    result.Status,
		"isExpired": result.IsExpired,
		"expiresAt": result.ExpiresAt,
		"createdAt": result.CreatedAt,
	}
	if result.RemainingSeconds != nil {
		body["remainingSeconds"] = *result.RemainingSeconds
	}
	if result.MintDetails != nil {
		body["mintDetails"] = result.MintDetails
	}
	c.JSON(http.StatusOK, body)
}

// handleTokenUpdate records the on-chain mint result (pending → used).
// PATCH /api/verification/token/:nonce/update
func (h *APIHandler) handleTokenUpdate(c *gin.Context) {
	nonce, ok := parseNonce(c, c.Param("nonce"))
	if !ok {
		return
	}

	var req struct {
		IPID    string `json:"ipId"`
		TokenID string `json:"tokenId"`
		TxHash  string `json:"txHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "Invalid request body. Expected: {ipId, tokenId, txHash}", nil)
		return
	}

	result, err := h.tokens.Update(c.Request.Context(), nonce, req.IPID, req.TokenID, req.TxHash)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.wsHub.BroadcastEvent("token_used", gin.H{
		"nonce":  result.Nonce,
		"ipId":   req.IPID,
		"txHash": req.TxHash,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"nonce":   result.Nonce,
		"status":  result.Status,
		"usedAt":  result.UsedAt,
	})
}

// handleTokenFinalize attaches license terms (used → registered).
// PATCH /api/verification/token/:nonce/finalize
func (h *APIHandler) handleTokenFinalize(c *gin.Context) {
	nonce, ok := parseNonce(c, c.Param("nonce"))
	if !ok {
		return
	}

	var req struct {
		LicenseTermsID   string `json:"licenseTermsId"`
		LicenseType      string `json:"licenseType"`
		RoyaltyPercent   int    `json:"royaltyPercent"`
		AllowDerivatives bool   `json:"allowDerivatives"`
		CommercialUse    bool   `json:"commercialUse"`
		LicenseTxHash    string `json:"licenseTxHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "Invalid request body", nil)
		return
	}

	result, err := h.tokens.Finalize(c.Request.Context(), nonce, minttoken.FinalizeRequest{
		LicenseTermsID:   req.LicenseTermsID,
		LicenseType:      req.LicenseType,
		RoyaltyPercent:   req.RoyaltyPercent,
		AllowDerivatives: req.AllowDerivatives,
		CommercialUse:    req.CommercialUse,
		LicenseTxHash:    req.LicenseTxHash,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"nonce":   result.Nonce,
		"status":  result.Status,
		"ipId":    result.IPID,
		"license": result.License,
	})
}

// handleRevokeToken invalidates a pending authorization.
// POST /api/verification/revoke-token
func (h *APIHandler) handleRevokeToken(c *gin.Context) {
	var req struct {
		Nonce  *uint64 `json:"nonce"`
		Reason string  `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Nonce == nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "Invalid request body. Expected: {nonce, reason?}", nil)
		return
	}

	result, err := h.tokens.Revoke(c.Request.Context(), *req.Nonce, req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"nonce":     result.Nonce,
		"revokedAt": result.RevokedAt,
		"reason":    result.Reason,
	})
}

// handleStats exposes admission counts and recent blocked records.
// GET /api/verification/stats
func (h *APIHandler) handleStats(c *gin.Context) {
	stats, err := h.engine.Statistics(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// handleHealth returns engine status and capabilities for service discovery.
// GET /api/v1/health
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := false
	if h.dbStore != nil && h.dbStore.Ping(c.Request.Context()) == nil {
		dbConnected = true
	}
	sweeps, expired := h.sweeper.Progress()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "operational",
		"engine":  "StoryMint Verification Engine v1.0",
		"capabilities": gin.H{
			"similarity_check":  true,
			"llm_adjudication":  h.engine.LLMEnabled(),
			"mint_tokens":       true,
			"license_cache":     true,
			"realtime_stream":   true,
			"background_expiry": true,
		},
		"dbConnected":  dbConnected,
		"expirySweeps": sweeps,
		"totalExpired": expired,
	})
}

func parseNonce(c *gin.Context, raw string) (uint64, bool) {
	nonce, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "nonce must be a non-negative integer", nil)
		return 0, false
	}
	return nonce, true
}
