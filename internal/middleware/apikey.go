package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextKeyName ключ контекста gin с именем клиента, которому принадлежит ключ
const ContextKeyName = "api_key_name"

// APIKeyConfig конфигурация для API key аутентификации
type APIKeyConfig struct {
	// ValidKeys ключ -> имя клиента
	ValidKeys map[string]string
	// HeaderName имя заголовка (по умолчанию X-API-Key)
	HeaderName string
	Logger     *zap.Logger
}

// APIKey защищает административные эндпоинты (чтение рефералов, статистика)
type APIKey struct {
	config APIKeyConfig
}

func NewAPIKey(config APIKeyConfig) *APIKey {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &APIKey{config: config}
}

// Enabled false, если не настроен ни один ключ
func (ak *APIKey) Enabled() bool {
	return len(ak.config.ValidKeys) > 0
}

func (ak *APIKey) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := ak.extract(c)

		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "API key required: pass it in " + ak.config.HeaderName + " or Authorization: Bearer",
			})
			return
		}

		name, ok := ak.lookup(apiKey)
		if !ok {
			ak.config.Logger.Warn("Rejected request with invalid API key",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Invalid API key",
			})
			return
		}

		c.Set(ContextKeyName, name)

		c.Next()
	}
}

func (ak *APIKey) extract(c *gin.Context) string {
	if key := c.GetHeader(ak.config.HeaderName); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// lookup сравнивает со всеми ключами за постоянное время
func (ak *APIKey) lookup(apiKey string) (string, bool) {
	var (
		name  string
		found bool
	)
	for validKey, keyName := range ak.config.ValidKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			name = keyName
			found = true
		}
	}
	return name, found
}

// APIKeyName имя клиента, которому принадлежит ключ
func APIKeyName(c *gin.Context) string {
	return c.GetString(ContextKeyName)
}

// RateLimitKey ключ лимита для запросов с валидным API ключом: один
// бакет на клиента, с какого бы адреса он ни пришёл
func RateLimitKey(c *gin.Context) string {
	if name := APIKeyName(c); name != "" {
		return "api_key:" + name
	}
	return ""
}
