// Package stealth builds the single on-new-document script the Stealth
// Injector installs on every page of a stealth-enabled session (§4.5). It
// is pure string building — the caller decides how to install the result
// via the page's evaluate-on-new-document capability.
package stealth

import (
	"fmt"
	"strconv"
	"strings"

	"tabwatch/internal/fingerprint"
)

// Platform identifies a recognized social-media target for §6's
// platform-specific script table. The zero value means "no platform
// detected" and only the generic fingerprint script is installed.
type Platform string

const (
	PlatformNone      Platform = ""
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
)

// knownAutomationProps is deleted from window/navigator/document, mirroring
// every selenium/webdriver/cdp marker the teacher's evasion suite strips,
// plus the spec's own "_browserUse family".
var knownAutomationProps = []string{
	"__webdriver_evaluate", "__selenium_evaluate", "__webdriver_script_function",
	"__webdriver_script_func", "__webdriver_script_fn", "__fxdriver_evaluate",
	"__driver_unwrapped", "__webdriver_unwrapped", "__driver_evaluate",
	"__selenium_unwrapped", "__fxdriver_unwrapped", "__webdriverFunc",
	"__webdriver_evaluate", "$webdriverAsyncExecutor", "webdriver",
	"_Selenium_IDE_Recorder", "_selenium", "calledSelenium",
	"_browserUse", "_browserUseActivity", "_browserUseAgent",
}

// querySelectorBlockTerms are the substrings that make document.querySelector
// (All) return null/[] (§4.5).
var querySelectorBlockTerms = []string{"webdriver", "automation", "selenium", "browser-use"}

// Build assembles the full on-new-document script for one page: webdriver
// masking, navigator/chrome/permission overrides, canvas/webgl/audio noise,
// querySelector filtering, screen jitter, and — if platform is recognized
// — the platform-specific addition from §4.5/§6.
func Build(fp *fingerprint.Fingerprint, platform Platform) string {
	var b strings.Builder
	b.WriteString("(function(){\ntry{\n")
	b.WriteString(webdriverScript())
	b.WriteString(automationPropDeleteScript())
	b.WriteString(chromeRuntimeScript())
	b.WriteString(permissionsScript(fp))
	b.WriteString(navigatorScript(fp))
	b.WriteString(languagesScript(fp))
	b.WriteString(pluginsScript())
	b.WriteString(webglScript(fp))
	b.WriteString(canvasScript(fp))
	b.WriteString(audioScript(fp))
	b.WriteString(screenScript(fp))
	b.WriteString(querySelectorFilterScript())
	b.WriteString(platformScript(platform))
	b.WriteString("\n}catch(e){}\n})();")
	return b.String()
}

func webdriverScript() string {
	return `
try{delete Object.getPrototypeOf(navigator).webdriver;}catch(e){}
try{delete navigator.webdriver;}catch(e){}
var __origHasOwn=Object.prototype.hasOwnProperty;
navigator.hasOwnProperty=function(p){
	if(p==='webdriver')return false;
	return __origHasOwn.call(navigator,p);
};
if('webdriver' in navigator){
	var __realNav=navigator;
	var __navProxy=new Proxy(__realNav,{
		has:function(target,prop){
			if(prop==='webdriver')return false;
			return prop in target;
		},
		get:function(target,prop){
			if(prop==='webdriver')return undefined;
			var v=target[prop];
			return typeof v==='function'?v.bind(target):v;
		}
	});
	try{Object.defineProperty(window,'navigator',{get:function(){return __navProxy;},configurable:true});}catch(e){}
}
`
}

func automationPropDeleteScript() string {
	var names []string
	for _, p := range knownAutomationProps {
		names = append(names, "'"+escapeJS(p)+"'")
	}
	names = append(names, `Object.getOwnPropertyNames(window).filter(function(n){return /^cdc_.*?_/.test(n);})[0]||''`)
	return fmt.Sprintf(`
[%s].forEach(function(n){try{delete window[n];delete navigator[n];delete document[n];}catch(e){}});
Object.getOwnPropertyNames(window).filter(function(n){return /^cdc_.*?_/.test(n);}).forEach(function(n){try{delete window[n];}catch(e){}});
`, strings.Join(names, ","))
}

func chromeRuntimeScript() string {
	return `
if(!window.chrome){window.chrome={};}
if(!window.chrome.runtime){
	window.chrome.runtime={
		connect:function(){return{onMessage:{addListener:function(){},removeListener:function(){}},postMessage:function(){},disconnect:function(){}};},
		sendMessage:function(){},
		id:undefined
	};
}
`
}

func permissionsScript(fp *fingerprint.Fingerprint) string {
	states := make([]string, 0, len(fp.Permissions))
	for name, state := range fp.Permissions {
		js := "default"
		switch state {
		case fingerprint.PermissionDenied:
			js = "denied"
		case fingerprint.PermissionDefault:
			js = "default"
		}
		states = append(states, fmt.Sprintf("'%s':'%s'", escapeJS(name), js))
	}
	return fmt.Sprintf(`
var __permStates={%s};
if(navigator.permissions&&navigator.permissions.query){
	var __origQuery=navigator.permissions.query.bind(navigator.permissions);
	navigator.permissions.query=function(d){
		if(d&&__permStates.hasOwnProperty(d.name)){
			return Promise.resolve({state:__permStates[d.name],onchange:null});
		}
		return __origQuery(d);
	};
}
`, strings.Join(states, ","))
}

func navigatorScript(fp *fingerprint.Fingerprint) string {
	hw := fp.Hardware
	return fmt.Sprintf(`
Object.defineProperty(navigator,'hardwareConcurrency',{get:function(){return %d;},configurable:true});
Object.defineProperty(navigator,'deviceMemory',{get:function(){return %d;},configurable:true});
Object.defineProperty(navigator,'platform',{get:function(){return '%s';},configurable:true});
Object.defineProperty(navigator,'language',{get:function(){return '%s';},configurable:true});
`, hw.Cores, hw.Memory, escapeJS(hw.Platform), escapeJS(hw.Language))
}

func languagesScript(fp *fingerprint.Fingerprint) string {
	parts := make([]string, 0, len(fp.Hardware.Languages))
	for _, l := range fp.Hardware.Languages {
		parts = append(parts, "'"+escapeJS(l)+"'")
	}
	return fmt.Sprintf(`Object.defineProperty(navigator,'languages',{get:function(){return [%s];},configurable:true});`, strings.Join(parts, ","))
}

func pluginsScript() string {
	return `
var __plugins=[{name:'PDF Viewer',description:'Portable Document Format',filename:'internal-pdf-viewer'},{name:'Chrome PDF Viewer',description:'Portable Document Format',filename:'mhjfbmdgcfjbbpaeojofohoefgiehjai'}];
__plugins.item=function(i){return this[i];};
__plugins.namedItem=function(){return this[0];};
__plugins.refresh=function(){};
Object.defineProperty(navigator,'plugins',{get:function(){return __plugins;},configurable:true});
`
}

func webglScript(fp *fingerprint.Fingerprint) string {
	w := fp.WebGL
	return fmt.Sprintf(`
var __origGetContext=HTMLCanvasElement.prototype.getContext;
HTMLCanvasElement.prototype.getContext=function(type){
	var ctx=__origGetContext.apply(this,arguments);
	if((type==='webgl'||type==='experimental-webgl'||type==='webgl2')&&ctx){
		var gp=ctx.getParameter.bind(ctx);
		ctx.getParameter=function(p){
			if(p===37445)return '%s';
			if(p===37446)return '%s';
			if(p===7938)return '%s';
			if(p===35724)return '%s';
			return gp(p);
		};
	}
	return ctx;
};
`, escapeJS(w.Vendor), escapeJS(w.Renderer), escapeJS(w.Version), escapeJS(w.ShadingLanguageVersion))
}

func canvasScript(fp *fingerprint.Fingerprint) string {
	return fmt.Sprintf(`
var __origToDataURL=HTMLCanvasElement.prototype.toDataURL;
HTMLCanvasElement.prototype.toDataURL=function(){
	var r=__origToDataURL.apply(this,arguments);
	if(Math.random()<0.1&&r.length>0){
		return r.slice(0,-1)+String.fromCharCode(r.charCodeAt(r.length-1)^1);
	}
	return r;
};
var __canvasNoise=%s;
`, floatLiteral(fp.Canvas.Noise))
}

func audioScript(fp *fingerprint.Fingerprint) string {
	return fmt.Sprintf(`
var __AudioCtx=window.AudioContext||window.webkitAudioContext;
if(__AudioCtx){
	var __audioBase=%d, __audioNoise=%s;
	var __wrapped=function(){
		var ctx=new __AudioCtx();
		Object.defineProperty(ctx,'sampleRate',{get:function(){return __audioBase+(Math.random()-0.5)*__audioNoise;}});
		return ctx;
	};
	window.AudioContext=__wrapped;
	window.webkitAudioContext=__wrapped;
}
`, fp.Audio.SampleRate, floatLiteral(fp.Audio.Noise))
}

func screenScript(fp *fingerprint.Fingerprint) string {
	s := fp.Hardware.Screen
	return fmt.Sprintf(`
var __jitter=function(v){return v+(Math.floor(Math.random()*3)-1);};
Object.defineProperty(screen,'width',{get:function(){return __jitter(%d);},configurable:true});
Object.defineProperty(screen,'height',{get:function(){return __jitter(%d);},configurable:true});
Object.defineProperty(screen,'colorDepth',{get:function(){return %d;},configurable:true});
Object.defineProperty(screen,'pixelDepth',{get:function(){return %d;},configurable:true});
`, s.Width, s.Height, s.Depth, s.Depth)
}

func querySelectorFilterScript() string {
	var terms []string
	for _, t := range querySelectorBlockTerms {
		terms = append(terms, "'"+escapeJS(t)+"'")
	}
	return fmt.Sprintf(`
var __blockTerms=[%s];
var __isBlocked=function(sel){
	if(typeof sel!=='string')return false;
	var lower=sel.toLowerCase();
	for(var i=0;i<__blockTerms.length;i++){if(lower.indexOf(__blockTerms[i])!==-1)return true;}
	return false;
};
var __origQS=Document.prototype.querySelector;
Document.prototype.querySelector=function(sel){
	if(__isBlocked(sel))return null;
	return __origQS.apply(this,arguments);
};
var __origQSA=Document.prototype.querySelectorAll;
Document.prototype.querySelectorAll=function(sel){
	if(__isBlocked(sel))return document.createDocumentFragment().querySelectorAll('no-match');
	return __origQSA.apply(this,arguments);
};
`, strings.Join(terms, ","))
}

// platformScript installs the §4.5/§6 platform-specific additions; only
// Instagram and LinkedIn have one. No page location is checked: the
// Instagram fetch wrapper is installed on every page and adds its header
// only to requests whose URL contains instagram.com, and the LinkedIn
// style is added to every page.
func platformScript(p Platform) string {
	switch p {
	case PlatformInstagram:
		return `
if(window.fetch){
	var __origFetch=window.fetch;
	window.fetch=function(input,init){
		try{
			var url=typeof input==='string'?input:(input&&input.url)||'';
			if(url.indexOf('instagram.com')!==-1){
				init=init||{};
				init.headers=Object.assign({},init.headers,{'X-IG-App-ID':'936619743392459'});
			}
		}catch(e){}
		return __origFetch(input,init);
	};
}
`
	case PlatformLinkedIn:
		return `
var __style=document.createElement('style');
__style.textContent='[data-test-id*="bot"],.artdeco-toasts{display:none!important;}';
if(document.head)document.head.appendChild(__style);
else document.addEventListener('DOMContentLoaded',function(){document.head.appendChild(__style);});
`
	default:
		return ""
	}
}

func escapeJS(s string) string {
	return strings.NewReplacer("\\", "\\\\", "'", "\\'", "\n", "\\n", "\r", "").Replace(s)
}

func floatLiteral(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
