package domain

import "strings"

// UnknownDevice is the label used when the user agent is empty or unrecognised.
const UnknownDevice = "Unknown device"

// Ordered: more specific tokens first (Edge and Opera UAs also contain "Chrome", Chrome contains "Safari").
var browsers = []struct{ token, name string }{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
	{"okhttp", "Android app"},
	{"cfnetwork", "iOS app"},
	{"curl/", "curl"},
}

var platforms = []struct{ token, name string }{
	{"iphone", "iOS"},
	{"ipad", "iPadOS"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros ", "ChromeOS"},
	{"linux", "Linux"},
	{"darwin", "iOS"},
}

// DeviceLabel derives a human-readable label such as "Chrome on Windows" from a User-Agent header.
func DeviceLabel(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return UnknownDevice
	}
	browser := match(ua, browsers)
	platform := match(ua, platforms)
	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform + " device"
	default:
		return UnknownDevice
	}
}

func match(ua string, table []struct{ token, name string }) string {
	for _, e := range table {
		if strings.Contains(ua, e.token) {
			return e.name
		}
	}
	return ""
}
