package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want DeviceType
	}{
		{"empty", "", DeviceUnknown},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)", DeviceMobile},
		{"android phone", "Mozilla/5.0 (Linux; Android 13; Pixel 7) Mobile Safari/537.36", DeviceMobile},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X700) Safari/537.36", DeviceTablet},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X)", DeviceTablet},
		{"mac desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", DeviceDesktop},
		{"windows desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", DeviceDesktop},
		{"bot", "curl/8.0.1", DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDevice(tt.ua))
		})
	}
}

func TestBrowserName(t *testing.T) {
	assert.Equal(t, "Chrome", BrowserName("Mozilla/5.0 Chrome/120.0 Safari/537.36"))
	assert.Equal(t, "Firefox", BrowserName("Mozilla/5.0 Gecko/20100101 Firefox/121.0"))
	assert.Equal(t, "", BrowserName(""))
	assert.Equal(t, "", BrowserName("curl/8.0.1"))
}

func TestOSName(t *testing.T) {
	assert.Equal(t, "Windows", OSName("Mozilla/5.0 (Windows NT 10.0)"))
	assert.Equal(t, "macOS", OSName("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"))
	assert.Equal(t, "iOS", OSName("Mozilla/5.0 (iPhone; CPU iPhone OS 14_0)"))
	assert.Equal(t, "", OSName("curl/8.0.1"))
}
