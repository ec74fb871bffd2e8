package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/SergeiKhy/deeplink-service/internal/fingerprint"
	"github.com/SergeiKhy/deeplink-service/internal/manifest"
	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/SergeiKhy/deeplink-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeepLinkHandler struct {
	service        service.DeepLinkService
	clickProcessor service.ClickProcessor
	cfg            config.DeepLinkConfig
	logger         *zap.Logger
}

func NewDeepLinkHandler(
	service service.DeepLinkService,
	clickProcessor service.ClickProcessor,
	cfg config.DeepLinkConfig,
	logger *zap.Logger,
) *DeepLinkHandler {
	return &DeepLinkHandler{
		service:        service,
		clickProcessor: clickProcessor,
		cfg:            cfg,
		logger:         logger,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type StatsResponse struct {
	Clicks *models.ClickStats  `json:"clicks"`
	Queue  service.QueueStats `json:"queue"`
}

// HandleDeepLink godoc
// @Summary Deep link click
// @Description Stores the click for deferred matching and sends the user to the app or the store
// @Tags deeplinks
// @Produce html
// @Param deviceId query string false "Device identifier (or X-Device-ID header)"
// @Success 200 {string} string "Smart redirect page"
// @Success 302 {object} nil
// @Failure 500 {object} ErrorResponse
// @Router /link [get]
func (h *DeepLinkHandler) HandleDeepLink(c *gin.Context) {
	platform := detectPlatform(c.Request.UserAgent())

	params := queryParams(c.Request.URL.Query())
	if path := strings.Trim(c.Param("path"), "/"); path != "" {
		params["path"] = path
	}

	deviceID := c.Query("deviceId")
	if deviceID == "" {
		deviceID = c.GetHeader("X-Device-ID")
	}

	input := &models.CaptureInput{
		URL:      requestURL(c.Request),
		Params:   params,
		DeviceID: deviceID,
		ClientIP: fingerprint.ClientIP(c.Request),
		Platform: platform,
	}

	if _, err := h.service.CaptureLink(c.Request.Context(), input); err != nil {
		h.logger.Error("Failed to capture deep link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to process link",
		})
		return
	}

	switch platform {
	case models.PlatformIOS:
		h.openApp(c, platform, h.cfg.IOSAppScheme, appStoreURL(h.cfg), params)
	case models.PlatformAndroid:
		h.openApp(c, platform, h.cfg.AndroidAppScheme, playStoreURL(h.cfg), params)
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":  "Please open this link on your mobile device",
			"platform": string(models.PlatformWeb),
		})
	}
}

// openApp отдаёт страницу с попыткой открыть приложение или сразу редиректит в стор
func (h *DeepLinkHandler) openApp(c *gin.Context, platform models.Platform, scheme, storeURL string, params map[string]any) {
	if scheme == "" {
		c.Redirect(http.StatusFound, storeURL)
		return
	}
	c.HTML(http.StatusOK, redirectTemplateName, newRedirectPage(h.cfg, platform, scheme, storeURL, params))
}

// GetPendingLink godoc
// @Summary Recover pending link by device
// @Tags deeplinks
// @Produce json
// @Param deviceId path string true "Device identifier"
// @Success 200 {object} models.DeepLinkData
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/pending-links/device/{deviceId} [get]
func (h *DeepLinkHandler) GetPendingLink(c *gin.Context) {
	deviceID := c.Param("deviceId")

	data, err := h.service.GetPendingLink(c.Request.Context(), deviceID)
	h.respondPendingLink(c, data, err)
}

// GetDeferredLink godoc
// @Summary Recover pending link by the caller's IP fingerprint
// @Tags deeplinks
// @Produce json
// @Success 200 {object} models.DeepLinkData
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/pending-links/deferred [get]
func (h *DeepLinkHandler) GetDeferredLink(c *gin.Context) {
	ip := fingerprint.ClientIP(c.Request)

	data, err := h.service.GetPendingLinkByFingerprint(c.Request.Context(), ip)
	h.respondPendingLink(c, data, err)
}

func (h *DeepLinkHandler) respondPendingLink(c *gin.Context, data *models.DeepLinkData, err error) {
	if err != nil {
		if errors.Is(err, repository.ErrPendingLinkNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No pending link",
			})
			return
		}
		h.logger.Error("Failed to get pending link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get pending link",
		})
		return
	}

	c.JSON(http.StatusOK, data)
}

// DeletePendingLink godoc
// @Summary Drop pending link for a device
// @Tags deeplinks
// @Produce json
// @Param deviceId path string true "Device identifier"
// @Success 200 {object} map[string]string
// @Router /api/v1/pending-links/device/{deviceId} [delete]
func (h *DeepLinkHandler) DeletePendingLink(c *gin.Context) {
	deviceID := c.Param("deviceId")

	if err := h.service.DeletePendingLink(c.Request.Context(), deviceID); err != nil {
		h.logger.Error("Failed to delete pending link", zap.String("device_id", deviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to delete pending link",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Pending link deleted"})
}

// GetStats godoc
// @Summary Click and match statistics
// @Tags stats
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /api/v1/stats [get]
func (h *DeepLinkHandler) GetStats(c *gin.Context) {
	stats, err := h.clickProcessor.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get stats",
		})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		Clicks: stats,
		Queue:  h.clickProcessor.QueueStats(),
	})
}

func (h *DeepLinkHandler) AppleAppSiteAssociation(c *gin.Context) {
	c.JSON(http.StatusOK, manifest.AppleAppSiteAssociation(h.cfg))
}

func (h *DeepLinkHandler) AssetLinks(c *gin.Context) {
	c.JSON(http.StatusOK, manifest.AssetLinks(h.cfg))
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// queryParams берёт последнее значение для повторяющихся ключей
func queryParams(values url.Values) map[string]any {
	params := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[key] = vals[len(vals)-1]
		}
	}
	return params
}

// requestURL восстанавливает полный URL запроса с учётом прокси
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
