// Package manifest документы верификации домена под /.well-known
// для iOS universal links и Android app links.
package manifest

import (
	"github.com/SergeiKhy/deeplink-service/internal/config"
)

const handleAllURLs = "delegate_permission/common.handle_all_urls"

type AppSiteAssociation struct {
	AppLinks AppLinks `json:"applinks"`
}

type AppLinks struct {
	Apps    []string        `json:"apps"`
	Details []AppLinkDetail `json:"details"`
}

type AppLinkDetail struct {
	AppID string   `json:"appID"`
	Paths []string `json:"paths"`
}

type AssetLink struct {
	Relation []string        `json:"relation"`
	Target   AssetLinkTarget `json:"target"`
}

type AssetLinkTarget struct {
	Namespace              string   `json:"namespace"`
	PackageName            string   `json:"package_name"`
	SHA256CertFingerprints []string `json:"sha256_cert_fingerprints"`
}

// AppleAppSiteAssociation документ apple-app-site-association с одним
// приложением "<team>.<bundle>" и совпадением по любому пути.
func AppleAppSiteAssociation(cfg config.DeepLinkConfig) AppSiteAssociation {
	return AppSiteAssociation{
		AppLinks: AppLinks{
			Apps: []string{},
			Details: []AppLinkDetail{
				{
					AppID: cfg.IOSTeamID + "." + cfg.IOSBundleID,
					Paths: []string{"*"},
				},
			},
		},
	}
}

// AssetLinks документ assetlinks.json: по записи на каждый отпечаток сертификата.
func AssetLinks(cfg config.DeepLinkConfig) []AssetLink {
	links := make([]AssetLink, 0, len(cfg.AndroidSHA256Fingerprints))
	for _, fp := range cfg.AndroidSHA256Fingerprints {
		links = append(links, AssetLink{
			Relation: []string{handleAllURLs},
			Target: AssetLinkTarget{
				Namespace:              "android_app",
				PackageName:            cfg.AndroidPackageName,
				SHA256CertFingerprints: []string{fp},
			},
		})
	}
	return links
}
