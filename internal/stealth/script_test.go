package stealth

import (
	"strings"
	"testing"

	"tabwatch/internal/fingerprint"
)

func buildTestFingerprint() *fingerprint.Fingerprint {
	return &fingerprint.Fingerprint{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/123.0.0.0",
		Hardware: fingerprint.Hardware{
			Memory:    8,
			Cores:     8,
			Platform:  "Win32",
			Language:  "en-US",
			Languages: []string{"en-US", "en"},
		},
		WebGL: fingerprint.WebGL{
			Renderer: "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0)",
			Vendor:   "Google Inc.",
		},
		Permissions: map[string]fingerprint.Permission{
			"notifications": fingerprint.PermissionDefault,
			"geolocation":   fingerprint.PermissionDenied,
		},
	}
}

func TestBuildMasksWebdriver(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformNone)
	if !strings.Contains(script, "navigator.webdriver") && !strings.Contains(script, "'webdriver'") {
		t.Error("script should override navigator.webdriver")
	}
	if !strings.Contains(script, "return undefined") {
		t.Error("script should make navigator.webdriver read as undefined")
	}
}

func TestBuildMasksWebdriverInOperator(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformNone)
	if !strings.Contains(script, "has:function(target,prop)") {
		t.Error("script should install a Proxy 'has' trap so 'webdriver' in navigator reads false")
	}
	if !strings.Contains(script, "if(prop==='webdriver')return false;") {
		t.Error("the 'has' trap should report webdriver absent")
	}
}

func TestBuildDeletesAutomationMarkers(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformNone)
	if !strings.Contains(script, "_browserUse") {
		t.Error("script should delete the _browserUse marker family")
	}
	if !strings.Contains(script, "cdc_") {
		t.Error("script should strip the cdc_ automation-controlled markers")
	}
}

func TestBuildIsValidWrappedIIFE(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformNone)
	if !strings.HasPrefix(strings.TrimSpace(script), "(function(){") {
		t.Error("script should be wrapped in an IIFE")
	}
	if !strings.HasSuffix(strings.TrimSpace(script), "})();") {
		t.Error("script should close its IIFE")
	}
}

func TestBuildLinkedInHidesMarkers(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformLinkedIn)
	if !strings.Contains(script, "display:none") {
		t.Error("linkedin platform script should hide bot-marker selectors with display:none, not reveal them")
	}
}

func TestBuildInstagramAddsHeader(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformInstagram)
	if !strings.Contains(script, "instagram.com") || !strings.Contains(script, "X-IG-App-ID") {
		t.Error("instagram platform script should add the X-IG-App-ID header for instagram.com fetches")
	}
}

func TestBuildQuerySelectorFilterBlocksAllTerms(t *testing.T) {
	script := Build(buildTestFingerprint(), PlatformNone)
	for _, term := range querySelectorBlockTerms {
		if !strings.Contains(script, term) {
			t.Errorf("querySelector filter should reference block term %q", term)
		}
	}
}

func TestBuildWebGLUsesFingerprintValues(t *testing.T) {
	fp := buildTestFingerprint()
	script := Build(fp, PlatformNone)
	if !strings.Contains(script, fp.WebGL.Renderer) {
		t.Error("script should embed the fingerprint's WebGL renderer string")
	}
	if !strings.Contains(script, fp.WebGL.Vendor) {
		t.Error("script should embed the fingerprint's WebGL vendor string")
	}
}
