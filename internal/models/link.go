package models

import (
	"time"
)

// PendingLink неподтверждённое намерение перехода по диплинку
type PendingLink struct {
	URL       string         `json:"url"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired сообщает, истёк ли срок жизни записи к моменту now
func (p *PendingLink) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// DeepLinkData ответ приложению при восстановлении отложенной ссылки
type DeepLinkData struct {
	URL        string         `json:"url"`
	Params     map[string]any `json:"params"`
	IsDeferred bool           `json:"isDeferred"`
}

// CaptureInput всё, что нужно для сохранения клика по диплинку
type CaptureInput struct {
	URL      string
	Params   map[string]any
	DeviceID string
	ClientIP string
	Platform Platform
}

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformUnknown Platform = "unknown"
)
