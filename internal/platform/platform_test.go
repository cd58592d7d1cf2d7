package platform

import "testing"

func TestDetectByDomain(t *testing.T) {
	cases := map[string]Platform{
		"https://www.instagram.com/explore": Instagram,
		"https://www.linkedin.com/feed":      LinkedIn,
		"https://www.facebook.com/":          Facebook,
		"https://twitter.com/home":           Twitter,
		"https://x.com/home":                 Twitter,
		"https://www.tiktok.com/foryou":      TikTok,
		"https://example.com/":               None,
	}
	for url, want := range cases {
		if got := Detect("", url); got != want {
			t.Errorf("Detect(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestDetectByTaskString(t *testing.T) {
	if got := Detect("Like 5 posts on Instagram for user x", ""); got != Instagram {
		t.Errorf("Detect(task) = %q, want instagram", got)
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	if got := Detect("", "HTTPS://WWW.LINKEDIN.COM/"); got != LinkedIn {
		t.Errorf("Detect should be case-insensitive, got %q", got)
	}
}

func TestLaunchFlagsAlwaysIncludesBase(t *testing.T) {
	for _, p := range []Platform{None, Instagram, LinkedIn, Facebook, Twitter, TikTok} {
		flags := LaunchFlags(p)
		for _, base := range BaseFlags {
			found := false
			for _, f := range flags {
				if f == base {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("LaunchFlags(%s) missing base flag %s", p, base)
			}
		}
	}
}

func TestLaunchFlagsPlatformSpecific(t *testing.T) {
	flags := LaunchFlags(Instagram)
	want := "--disable-web-security"
	found := false
	for _, f := range flags {
		if f == want {
			found = true
		}
	}
	if !found {
		t.Errorf("LaunchFlags(instagram) missing %s", want)
	}
}

func TestExtraFlagsNoneIsEmpty(t *testing.T) {
	if len(ExtraFlags(None)) != 0 {
		t.Error("ExtraFlags(None) should be empty")
	}
}
