package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/SergeiKhy/deeplink-service/internal/handler"
	"github.com/SergeiKhy/deeplink-service/internal/middleware"
	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/SergeiKhy/deeplink-service/internal/service"
	"github.com/SergeiKhy/deeplink-service/internal/service/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
	androidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	adminKey  = "admin-key"
)

type testServer struct {
	router *gin.Engine
	clicks *mocks.MockClickProcessor
}

func testDeepLinkConfig() config.DeepLinkConfig {
	return config.DeepLinkConfig{
		IOSAppID:                  "123456789",
		IOSTeamID:                 "TEAMID",
		IOSBundleID:               "com.example.app",
		IOSAppScheme:              "myapp",
		AndroidPackageName:        "com.example.app",
		AndroidAppScheme:          "myapp",
		AndroidSHA256Fingerprints: []string{"AA:BB"},
		FallbackTimeout:           2500 * time.Millisecond,
		PendingLinkTTL:            time.Hour,
	}
}

func newTestServer(t *testing.T, cfg config.DeepLinkConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	storage := repository.NewMemoryStorage()
	clicks := mocks.NewMockClickProcessor()

	apiKey := middleware.NewAPIKey(middleware.APIKeyConfig{
		ValidKeys: map[string]string{adminKey: "tests"},
	})

	router := handler.NewRouter(
		service.NewDeepLinkService(storage, clicks, cfg.PendingLinkTTL, logger),
		service.NewReferralService(storage, logger),
		clicks,
		cfg,
		nil,
		apiKey.Middleware(),
		logger,
	)

	return &testServer{router: router, clicks: clicks}
}

type request struct {
	method  string
	path    string
	body    any
	ip      string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	method := r.method
	if method == "" {
		method = http.MethodGet
	}

	req := httptest.NewRequest(method, r.path, &body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.ip != "" {
		req.RemoteAddr = r.ip + ":40000"
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandleDeepLink_IOSRendersRedirectPage(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		path:    "/link?type=referral&code=ABC123",
		ip:      "203.0.113.7",
		headers: map[string]string{"User-Agent": iPhoneUA},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "Opening App...")
	assert.Contains(t, body, "https://apps.apple.com/app/id123456789")
	assert.Contains(t, body, "myapp://link?code=ABC123")
	assert.Contains(t, body, "2500")

	events := s.clicks.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ClickKindCapture, events[0].Kind)
	assert.Equal(t, models.PlatformIOS, events[0].Platform)
}

func TestHandleDeepLink_AndroidIntent(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		path:    "/link/promo/summer?code=XYZ",
		headers: map[string]string{"User-Agent": androidUA},
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "https://play.google.com/store/apps/details?id=com.example.app")
	assert.Contains(t, body, "intent://link?code=XYZ")
	assert.Contains(t, body, "package=com.example.app")
}

func TestHandleDeepLink_NoSchemeRedirectsToStore(t *testing.T) {
	cfg := testDeepLinkConfig()
	cfg.IOSAppScheme = ""
	s := newTestServer(t, cfg)

	w := s.do(t, request{
		path:    "/link?code=ABC123",
		headers: map[string]string{"User-Agent": iPhoneUA},
	})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://apps.apple.com/app/id123456789", w.Header().Get("Location"))
}

func TestHandleDeepLink_Desktop(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		path:    "/link?code=ABC123",
		headers: map[string]string{"User-Agent": desktopUA},
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "web", resp["platform"])
	assert.Equal(t, "Please open this link on your mobile device", resp["message"])
}

func TestDeferredFlow_ByFingerprint(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		path: "/link/promo?type=referral&code=ABC123&code=LAST",
		headers: map[string]string{
			"User-Agent":        iPhoneUA,
			"X-Forwarded-For":   "198.51.100.4, 10.0.0.1",
			"X-Forwarded-Proto": "https",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Приложение приходит с того же внешнего адреса
	w = s.do(t, request{
		path:    "/api/v1/pending-links/deferred",
		headers: map[string]string{"X-Forwarded-For": "198.51.100.4"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decode[models.DeepLinkData](t, w)
	assert.True(t, data.IsDeferred)
	assert.Equal(t, "https://example.com/link/promo?type=referral&code=ABC123&code=LAST", data.URL)
	assert.Equal(t, "LAST", data.Params["code"])
	assert.Equal(t, "referral", data.Params["type"])
	assert.Equal(t, "promo", data.Params["path"])

	// Вторая попытка уже ничего не находит
	w = s.do(t, request{
		path:    "/api/v1/pending-links/deferred",
		headers: map[string]string{"X-Forwarded-For": "198.51.100.4"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, w).Error)
}

func TestDeferredFlow_ByDevice(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		path:    "/link?code=ABC123",
		ip:      "203.0.113.9",
		headers: map[string]string{"User-Agent": androidUA, "X-Device-ID": "device-42"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{path: "/api/v1/pending-links/device/device-42"})
	require.Equal(t, http.StatusOK, w.Code)
	raw := decode[map[string]any](t, w)
	assert.Equal(t, true, raw["isDeferred"])
	assert.NotContains(t, raw, "is_deferred")
	assert.Equal(t, "ABC123", raw["params"].(map[string]any)["code"])

	w = s.do(t, request{path: "/api/v1/pending-links/device/device-42"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Копия под отпечатком живёт независимо
	w = s.do(t, request{path: "/api/v1/pending-links/deferred", ip: "203.0.113.9"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeletePendingLink(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	s.do(t, request{
		path:    "/link?deviceId=device-1&code=ABC",
		headers: map[string]string{"User-Agent": iPhoneUA},
	})

	w := s.do(t, request{method: http.MethodDelete, path: "/api/v1/pending-links/device/device-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodDelete, path: "/api/v1/pending-links/device/device-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{path: "/api/v1/pending-links/device/device-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReferralEndpoints(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())
	auth := map[string]string{"X-API-Key": adminKey}

	w := s.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/referrals",
		body: models.TrackReferralInput{
			ReferralCode: "R1",
			RefereeID:    "U1",
			Metadata:     map[string]any{"source": "email"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	// Повторная атрибуция тоже успешна, но ничего не меняет
	w = s.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/referrals",
		body:   models.TrackReferralInput{ReferralCode: "R2", RefereeID: "U1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = s.do(t, request{path: "/api/v1/users/U1/referral", headers: auth})
	require.Equal(t, http.StatusOK, w.Code)
	referral := decode[models.Referral](t, w)
	assert.Equal(t, "R1", referral.ReferrerID)
	assert.Equal(t, "R1", referral.ReferralCode)
	assert.Equal(t, "email", referral.Metadata["source"])

	w = s.do(t, request{path: "/api/v1/referrals/R1", headers: auth})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[handler.ReferralListResponse](t, w)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Referrals, 1)
	assert.Equal(t, "U1", list.Referrals[0].RefereeID)

	w = s.do(t, request{path: "/api/v1/referrals/R2", headers: auth})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"referrer_id":"R2","count":0,"referrals":[]}`, w.Body.String())

	w = s.do(t, request{path: "/api/v1/users/U2/referral", headers: auth})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackReferral_Validation(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/referrals",
		body:   map[string]string{"referral_code": "R1"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode[handler.ErrorResponse](t, w).Error)
}

func TestAdminEndpointsRequireAPIKey(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	for _, path := range []string{"/api/v1/referrals/R1", "/api/v1/users/U1/referral", "/api/v1/stats"} {
		w := s.do(t, request{path: path})
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	s.do(t, request{path: "/link?code=A", ip: "203.0.113.1", headers: map[string]string{"User-Agent": iPhoneUA}})
	s.do(t, request{path: "/link?code=B", ip: "203.0.113.2", headers: map[string]string{"User-Agent": androidUA}})
	s.do(t, request{path: "/api/v1/pending-links/deferred", ip: "203.0.113.1"})

	w := s.do(t, request{path: "/api/v1/stats", headers: map[string]string{"X-API-Key": adminKey}})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handler.StatsResponse](t, w)
	require.NotNil(t, resp.Clicks)
	assert.Equal(t, int64(2), resp.Clicks.TotalCaptures)
	assert.Equal(t, int64(1), resp.Clicks.TotalMatches)
	assert.Equal(t, int64(1), resp.Clicks.ByPlatform["ios"])
	assert.Equal(t, int64(1), resp.Clicks.ByMatchSource["fingerprint"])
}

func TestWellKnownManifests(t *testing.T) {
	s := newTestServer(t, testDeepLinkConfig())

	w := s.do(t, request{path: "/.well-known/apple-app-site-association"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TEAMID.com.example.app")

	w = s.do(t, request{path: "/.well-known/assetlinks.json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "com.example.app")
	assert.Contains(t, w.Body.String(), "AA:BB")

	w = s.do(t, request{path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDeepLink_StorageFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	repo := mocks.NewMockPendingLinkRepository()
	repo.Err = errors.New("connection refused")

	router := handler.NewRouter(
		service.NewDeepLinkService(repo, nil, time.Hour, logger),
		service.NewReferralService(mocks.NewMockReferralRepository(), logger),
		mocks.NewMockClickProcessor(),
		testDeepLinkConfig(),
		nil,
		nil,
		logger,
	)

	for _, path := range []string{"/link?code=A", "/api/v1/pending-links/deferred", "/api/v1/pending-links/device/d1"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("User-Agent", iPhoneUA)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.Contains(t, w.Body.String(), "internal_error", path)
	}
}
