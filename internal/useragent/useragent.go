// Package useragent classifies User-Agent strings for analytics segmentation.
package useragent

import "strings"

// DeviceType is a coarse device classification.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

var tabletMarkers = []string{"ipad", "tablet", "playbook", "silk"}

var mobileMarkers = []string{"mobile", "iphone", "ipod", "android", "blackberry", "windows phone", "webos"}

var desktopMarkers = []string{"windows", "macintosh", "linux", "x11"}

// DetectDevice classifies a User-Agent header value. Tablets are checked
// before mobiles because Android tablets omit the "mobile" token.
func DetectDevice(userAgent string) DeviceType {
	if userAgent == "" {
		return DeviceUnknown
	}

	ua := strings.ToLower(userAgent)

	for _, m := range tabletMarkers {
		if strings.Contains(ua, m) {
			return DeviceTablet
		}
	}
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobile") {
		return DeviceTablet
	}

	for _, m := range mobileMarkers {
		if strings.Contains(ua, m) {
			return DeviceMobile
		}
	}

	for _, m := range desktopMarkers {
		if strings.Contains(ua, m) {
			return DeviceDesktop
		}
	}

	return DeviceUnknown
}

// BrowserName extracts a browser family name, or "" when unrecognized.
func BrowserName(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "edge"):
		return "Edge"
	case strings.Contains(ua, "opera"):
		return "Opera"
	}

	return ""
}

// OSName extracts an operating system name, or "" when unrecognized.
func OSName(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os x"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	}

	return ""
}
