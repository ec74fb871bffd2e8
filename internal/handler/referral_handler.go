package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/SergeiKhy/deeplink-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReferralHandler struct {
	service service.ReferralService
	logger  *zap.Logger
}

func NewReferralHandler(service service.ReferralService, logger *zap.Logger) *ReferralHandler {
	return &ReferralHandler{
		service: service,
		logger:  logger,
	}
}

type ReferralListResponse struct {
	ReferrerID string            `json:"referrer_id"`
	Count      int               `json:"count"`
	Referrals  []models.Referral `json:"referrals"`
}

// TrackReferral godoc
// @Summary Attribute a user to a referral code
// @Description The first attribution for a user is final, later attempts are accepted and ignored
// @Tags referrals
// @Accept json
// @Produce json
// @Param input body models.TrackReferralInput true "Referral data"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/referrals [post]
func (h *ReferralHandler) TrackReferral(c *gin.Context) {
	var input models.TrackReferralInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	recorded, err := h.service.TrackReferral(c.Request.Context(), input.ReferralCode, input.RefereeID, input.Metadata)
	if err != nil {
		h.logger.Error("Failed to track referral",
			zap.String("referral_code", input.ReferralCode),
			zap.String("referee_id", input.RefereeID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to track referral",
		})
		return
	}

	if recorded {
		h.logger.Info("Referral tracked",
			zap.String("referral_code", input.ReferralCode),
			zap.String("referee_id", input.RefereeID),
		)
	}

	// Повторная атрибуция не раскрывается клиенту
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetReferrals godoc
// @Summary Referrals made by a referrer
// @Tags referrals
// @Produce json
// @Param referrerId path string true "Referrer identifier"
// @Success 200 {object} ReferralListResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/referrals/{referrerId} [get]
func (h *ReferralHandler) GetReferrals(c *gin.Context) {
	referrerID := c.Param("referrerId")

	referrals, err := h.service.GetReferrals(c.Request.Context(), referrerID)
	if err != nil {
		h.logger.Error("Failed to get referrals", zap.String("referrer_id", referrerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get referrals",
		})
		return
	}

	c.JSON(http.StatusOK, ReferralListResponse{
		ReferrerID: referrerID,
		Count:      len(referrals),
		Referrals:  referrals,
	})
}

// GetUserReferral godoc
// @Summary Who referred the user
// @Tags referrals
// @Produce json
// @Param userId path string true "Referee identifier"
// @Success 200 {object} models.Referral
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/users/{userId}/referral [get]
func (h *ReferralHandler) GetUserReferral(c *gin.Context) {
	userID := c.Param("userId")

	referral, err := h.service.GetReferralForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No referral for user",
			})
			return
		}
		h.logger.Error("Failed to get user referral", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get referral",
		})
		return
	}

	c.JSON(http.StatusOK, referral)
}
