package stealth

import (
	"fmt"
	"strings"

	"tabwatch/internal/fingerprint"
)

// Headers is the pre-navigation header set SI installs alongside the
// on-new-document script (§4.5, supplemented by §4.8): Sec-CH-UA* client
// hints and Accept-Language, both derived from the Fingerprint so they
// never disagree with the UA string or the navigator.languages override.
type Headers map[string]string

// BuildHeaders derives the Sec-CH-UA* and Accept-Language header set for a
// Fingerprint. Sec-CH-UA-Platform carries the bare OS name ("Windows",
// "macOS", "Linux"), which chPlatformName maps from navigator.platform's
// "Win32"/"MacIntel"/"Linux x86_64" values.
func BuildHeaders(fp *fingerprint.Fingerprint) Headers {
	major := fingerprint.ChromeMajorVersion(fp.UserAgent)
	if major == "" {
		major = "120"
	}

	secChUa := fmt.Sprintf(
		`"Chromium";v="%s", "Not=A?Brand";v="8", "Google Chrome";v="%s"`,
		major, major,
	)

	return Headers{
		"Sec-CH-UA":                    secChUa,
		"Sec-CH-UA-Mobile":             "?0",
		"Sec-CH-UA-Platform":           `"` + chPlatformName(fp.Hardware.Platform) + `"`,
		"Sec-CH-UA-Platform-Version":   `"` + chPlatformVersion(fp.Hardware.Platform) + `"`,
		"Sec-CH-UA-Full-Version-List":  secChUa,
		"Accept-Language":              buildAcceptLanguage(fp.Hardware.Languages),
	}
}

func chPlatformName(navigatorPlatform string) string {
	switch {
	case strings.HasPrefix(navigatorPlatform, "Win"):
		return "Windows"
	case strings.HasPrefix(navigatorPlatform, "Mac"):
		return "macOS"
	case strings.Contains(navigatorPlatform, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

// chPlatformVersion returns the Sec-CH-UA-Platform-Version value Chrome
// reports for each platform family (§4.8) — a coarse major-version string,
// not tied to a specific OS build.
func chPlatformVersion(navigatorPlatform string) string {
	switch {
	case strings.HasPrefix(navigatorPlatform, "Win"):
		return "15.0.0"
	case strings.HasPrefix(navigatorPlatform, "Mac"):
		return "13.0.0"
	case strings.Contains(navigatorPlatform, "Linux"):
		return "6.5.0"
	default:
		return "0.0.0"
	}
}

// buildAcceptLanguage renders a quality-weighted Accept-Language value from
// a most-preferred-first language list, e.g. ["de-DE","de","en"] becomes
// "de-DE,de;q=0.9,en;q=0.8".
func buildAcceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(languages))
	q := 1.0
	for i, l := range languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q -= 0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}
