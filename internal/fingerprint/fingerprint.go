// Package fingerprint слабые идентификаторы клиента для сопоставления клика
// в браузере с первым запуском приложения.
//
// Отложенное сопоставление идёт только по IP: браузер и только что
// установленное приложение присылают разные User-Agent. Клиенты за одним
// NAT или прокси получают одинаковый отпечаток.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Length количество hex-символов отпечатка
const Length = 32

// UnknownIP используется, когда адрес клиента определить нельзя
const UnknownIP = "unknown"

// FromIP отпечаток только по IP. Используется для отложенных диплинков.
func FromIP(ip string) string {
	return hash(ip)
}

// FromIPAndUserAgent отпечаток по IP и User-Agent.
func FromIPAndUserAgent(ip, userAgent string) string {
	return hash(ip + "|" + userAgent)
}

func hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:Length]
}

// ClientIP извлекает адрес клиента: первый элемент X-Forwarded-For,
// затем адрес TCP-соединения, затем UnknownIP.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr без порта
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}

	return UnknownIP
}
