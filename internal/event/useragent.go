package event

import "strings"

// UAInfo is a coarse platform and browser label for a User-Agent.
type UAInfo struct {
	Platform string
	Browser  string
}

// ParseUA labels ua for reporting. It plays no part in classification.
func ParseUA(ua string) UAInfo {
	lowerUA := strings.ToLower(ua)
	return UAInfo{
		Platform: extractPlatform(lowerUA),
		Browser:  extractBrowser(lowerUA),
	}
}

func extractPlatform(lowerUA string) string {
	// iOS UAs contain "Mac OS X", Android UAs contain "Linux"
	switch {
	case strings.Contains(lowerUA, "iphone"), strings.Contains(lowerUA, "ipad"), strings.Contains(lowerUA, "ipod"):
		return "iOS"
	case strings.Contains(lowerUA, "android"):
		return "Android"
	case strings.Contains(lowerUA, "cros"):
		return "ChromeOS"
	case strings.Contains(lowerUA, "windows"):
		return "Windows"
	case strings.Contains(lowerUA, "mac"):
		return "macOS"
	case strings.Contains(lowerUA, "linux"), strings.Contains(lowerUA, "x11"):
		return "Linux"
	}
	return ""
}

func extractBrowser(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "edg/"), strings.Contains(lowerUA, "edge"):
		return "Edge"
	case strings.Contains(lowerUA, "opr/"), strings.Contains(lowerUA, "opera"):
		return "Opera"
	case strings.Contains(lowerUA, "samsungbrowser"):
		return "Samsung Internet"
	case strings.Contains(lowerUA, "firefox"), strings.Contains(lowerUA, "fxios"):
		return "Firefox"
	case strings.Contains(lowerUA, "chrome"), strings.Contains(lowerUA, "crios"):
		return "Chrome"
	case strings.Contains(lowerUA, "safari"):
		return "Safari"
	}
	return ""
}
