// Package platform implements the §6 platform-detection and launch-flag
// tables: which social-media site (if any) a session's task string or
// first URL identifies, and what additional Chrome flags that platform
// gets. The platform-specific stealth scripts live in internal/stealth.
package platform

import "strings"

// Platform is a recognized social-media target.
type Platform string

const (
	None      Platform = ""
	Instagram Platform = "instagram"
	LinkedIn  Platform = "linkedin"
	Facebook  Platform = "facebook"
	Twitter   Platform = "twitter"
	TikTok    Platform = "tiktok"
)

var domains = map[Platform][]string{
	Instagram: {"instagram.com"},
	LinkedIn:  {"linkedin.com"},
	Facebook:  {"facebook.com"},
	Twitter:   {"twitter.com", "x.com"},
	TikTok:    {"tiktok.com"},
}

// Detect finds the platform implied by a task description and/or the
// session's first URL, case-insensitive substring match on domain or
// platform name, per §6.
func Detect(task, firstURL string) Platform {
	haystack := strings.ToLower(task + " " + firstURL)
	for p, doms := range domains {
		if strings.Contains(haystack, string(p)) {
			return p
		}
		for _, d := range doms {
			if strings.Contains(haystack, d) {
				return p
			}
		}
	}
	return None
}

// BaseFlags are always passed to the browser launcher, regardless of
// platform (§6).
var BaseFlags = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
	"--exclude-switches=enable-automation",
}

// ExtraFlags returns the additional launch flags for a detected platform,
// or nil for None/unrecognized platforms.
func ExtraFlags(p Platform) []string {
	switch p {
	case Instagram:
		return []string{
			"--disable-features=VizDisplayCompositor",
			"--disable-web-security",
			"--allow-running-insecure-content",
			"--disable-site-isolation-trials",
		}
	case LinkedIn:
		return []string{
			"--enable-features=NetworkService",
			"--disable-client-side-phishing-detection",
			"--disable-component-extensions-with-background-pages",
		}
	case Facebook:
		return []string{
			"--disable-features=TranslateUI",
			"--disable-background-timer-throttling",
			"--disable-backgrounding-occluded-windows",
		}
	case Twitter:
		return []string{
			"--force-color-profile=srgb",
			"--metrics-recording-only",
			"--disable-domain-reliability",
		}
	case TikTok:
		return []string{
			"--use-mock-keychain",
			"--disable-component-update",
			"--aggressive-cache-discard",
		}
	default:
		return nil
	}
}

// LaunchFlags returns the full BaseFlags + platform extras for launching
// a browser for this platform.
func LaunchFlags(p Platform) []string {
	out := make([]string, 0, len(BaseFlags)+4)
	out = append(out, BaseFlags...)
	out = append(out, ExtraFlags(p)...)
	return out
}
