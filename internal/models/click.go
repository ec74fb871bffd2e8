package models

import (
	"time"

	"github.com/google/uuid"
)

type ClickKind string

const (
	ClickKindCapture ClickKind = "capture" // клик по ссылке в браузере
	ClickKindMatch   ClickKind = "match"   // приложение восстановило ссылку
)

// Источник совпадения при восстановлении
const (
	MatchSourceDevice      = "device"
	MatchSourceFingerprint = "fingerprint"
)

type Click struct {
	ID          uuid.UUID `json:"id"`
	Kind        ClickKind `json:"kind"`
	Platform    Platform  `json:"platform,omitempty"`
	MatchSource string    `json:"match_source,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	HasDeviceID bool      `json:"has_device_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ClickEvent struct {
	Kind        ClickKind
	Platform    Platform
	MatchSource string
	Fingerprint string
	HasDeviceID bool
}

type ClickStats struct {
	TotalCaptures int64            `json:"total_captures"`
	TotalMatches  int64            `json:"total_matches"`
	ByPlatform    map[string]int64 `json:"by_platform"`
	ByMatchSource map[string]int64 `json:"by_match_source"`
}

func NewClickStats() *ClickStats {
	return &ClickStats{
		ByPlatform:    make(map[string]int64),
		ByMatchSource: make(map[string]int64),
	}
}

// Add учитывает одно событие в агрегатах
func (s *ClickStats) Add(kind ClickKind, platform Platform, source string, n int64) {
	switch kind {
	case ClickKindCapture:
		s.TotalCaptures += n
		if platform != "" {
			s.ByPlatform[string(platform)] += n
		}
	case ClickKindMatch:
		s.TotalMatches += n
		if source != "" {
			s.ByMatchSource[source] += n
		}
	}
}
