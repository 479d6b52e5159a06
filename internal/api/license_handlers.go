package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/storymint/verification-engine/internal/minttoken"
)

// handleLicenseFind resolves a cached (type, royalty) pair.
// GET /api/license-terms/find?type=&royalty=
func (h *APIHandler) handleLicenseFind(c *gin.Context) {
	licenseType := c.Query("type")
	royalty, err := strconv.Atoi(c.DefaultQuery("royalty", "0"))
	if err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "royalty must be an integer", nil)
		return
	}

	termsID, cached, err := h.licenses.Find(c.Request.Context(), licenseType, royalty)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	body := gin.H{
		"success": true,
		"cached":  cached,
	}
	if cached {
		body["licenseTermsId"] = termsID
	}
	c.JSON(http.StatusOK, body)
}

// handleLicenseCache records a freshly registered license-terms id.
// POST /api/license-terms/cache
func (h *APIHandler) handleLicenseCache(c *gin.Context) {
	var req struct {
		LicenseType     string `json:"licenseType"`
		RoyaltyPercent  int    `json:"royaltyPercent"`
		LicenseTermsID  string `json:"licenseTermsId"`
		TransactionHash string `json:"transactionHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, minttoken.CodeInvalidInput, "Invalid request body", nil)
		return
	}

	created, err := h.licenses.Put(c.Request.Context(), req.LicenseType, req.RoyaltyPercent, req.LicenseTermsID, req.TransactionHash)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"success":        true,
		"created":        created,
		"licenseType":    req.LicenseType,
		"royaltyPercent": req.RoyaltyPercent,
		"licenseTermsId": req.LicenseTermsID,
	})
}
