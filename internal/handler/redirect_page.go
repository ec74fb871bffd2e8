package handler

import (
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/ua-parser/uap-go/uaparser"
)

const (
	defaultFallbackTimeout = 2500 * time.Millisecond
	redirectTemplateName   = "redirect.html"
)

// uaParser разбирает только ОС: остальные поля User-Agent здесь не нужны
var uaParser = mustNewUAParser()

func mustNewUAParser() *uaparser.Parser {
	parser, err := uaparser.New(uaparser.WithMode(uaparser.EOsLookUpMode))
	if err != nil {
		panic(fmt.Sprintf("user agent parser: %v", err))
	}
	return parser
}

// detectPlatform определяет мобильную платформу по семейству ОС из User-Agent
func detectPlatform(userAgent string) models.Platform {
	switch uaParser.ParseOs(userAgent).Family {
	case "iOS":
		return models.PlatformIOS
	case "Android":
		return models.PlatformAndroid
	default:
		return models.PlatformWeb
	}
}

// BuildDeepLink собирает URI вида scheme://path?k=v с отсортированными ключами
func BuildDeepLink(scheme, path string, params map[string]any) string {
	values := url.Values{}
	for key, value := range params {
		values.Set(key, fmt.Sprint(value))
	}

	uri := scheme + "://" + path
	if query := values.Encode(); query != "" {
		uri += "?" + query
	}
	return uri
}

func appStoreURL(cfg config.DeepLinkConfig) string {
	return "https://apps.apple.com/app/id" + cfg.IOSAppID
}

func playStoreURL(cfg config.DeepLinkConfig) string {
	return "https://play.google.com/store/apps/details?id=" + url.QueryEscape(cfg.AndroidPackageName)
}

// redirectPage данные страницы "открыть приложение или перейти в стор"
type redirectPage struct {
	AppURI        string
	StoreURL      string
	AndroidIntent string
	IsAndroid     bool
	TimeoutMS     int64
}

func newRedirectPage(cfg config.DeepLinkConfig, platform models.Platform, scheme, storeURL string, params map[string]any) redirectPage {
	timeout := cfg.FallbackTimeout
	if timeout <= 0 {
		timeout = defaultFallbackTimeout
	}

	page := redirectPage{
		AppURI:    BuildDeepLink(scheme, "link", params),
		StoreURL:  storeURL,
		IsAndroid: platform == models.PlatformAndroid,
		TimeoutMS: timeout.Milliseconds(),
	}

	if page.IsAndroid {
		intent := strings.TrimPrefix(page.AppURI, scheme+"://")
		page.AndroidIntent = fmt.Sprintf("intent://%s#Intent;scheme=%s;package=%s;end",
			intent, scheme, cfg.AndroidPackageName)
	}

	return page
}

var redirectTemplate = template.Must(template.New(redirectTemplateName).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Opening App...</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
      display: flex;
      justify-content: center;
      align-items: center;
      min-height: 100vh;
      margin: 0;
      background: #4f46e5;
      color: white;
      text-align: center;
    }
    .container { padding: 20px; }
    h1 { font-size: 24px; margin-bottom: 10px; }
    p { opacity: 0.9; margin-bottom: 20px; }
    .btn {
      display: inline-block;
      padding: 12px 24px;
      background: white;
      color: #4f46e5;
      text-decoration: none;
      border-radius: 8px;
      font-weight: 600;
    }
  </style>
</head>
<body>
  <div class="container">
    <h1>Opening App...</h1>
    <p>If the app doesn't open, tap below to download</p>
    <a href="{{.StoreURL}}" class="btn">Download App</a>
  </div>
  <script>
    (function() {
      var appUri = {{.AppURI}};
      var storeUrl = {{.StoreURL}};
      var androidIntent = {{.AndroidIntent}};
      var isAndroid = {{.IsAndroid}};
      var timeout = {{.TimeoutMS}};
      var startTime = Date.now();
      var hasFocus = true;

      window.addEventListener('blur', function() { hasFocus = false; });
      window.addEventListener('pagehide', function() { hasFocus = false; });
      document.addEventListener('visibilitychange', function() {
        if (document.hidden) hasFocus = false;
      });

      var iframe = document.createElement('iframe');
      iframe.style.display = 'none';
      iframe.src = appUri;
      document.body.appendChild(iframe);

      setTimeout(function() {
        if (hasFocus) window.location.href = appUri;
      }, 100);

      if (isAndroid && androidIntent) {
        setTimeout(function() {
          if (hasFocus && Date.now() - startTime < timeout) window.location.href = androidIntent;
        }, 500);
      }

      setTimeout(function() {
        if (hasFocus && Date.now() - startTime >= timeout - 100) window.location.href = storeUrl;
      }, timeout);
    })();
  </script>
</body>
</html>
`))
