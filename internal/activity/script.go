// Package activity implements the Automation-Activity Scorer's in-page
// half: the Activity Tracker Script (ATS) that is installed as an
// on-new-document script, plus the Go-side Snapshot decoding of its
// single-call evaluation (§4.4).
package activity

// Script is the ATS source, installed at document-start on every tab
// (regardless of stealth_enabled — the scheduler needs it to score tabs
// whether or not the session is presenting a disguised fingerprint). It
// tracks mouse/keyboard/form/DOM-mutation/visibility activity into
// well-known page-globals and exposes a single snapshot function the
// scorer calls once per candidate per tick.
const Script = `
(function(){
if(window.__tabwatchInstalled)return;
window.__tabwatchInstalled=true;

window.browserUseLastAction=Date.now();
window.lastInteractionTime=Date.now();
window.lastDomModification=Date.now();
window.lastVisibilityChange=Date.now();
window.browserUseActive=true;
window.automationInProgress=true;

function mark(){ window.lastInteractionTime=Date.now(); window.browserUseLastAction=Date.now(); }

['click','mousedown','mouseup','mousemove','wheel'].forEach(function(ev){
	document.addEventListener(ev, mark, {capture:true, passive:true});
});
['keydown','keyup','keypress','input'].forEach(function(ev){
	document.addEventListener(ev, mark, {capture:true, passive:true});
});
['change','select','focus','blur','submit'].forEach(function(ev){
	document.addEventListener(ev, mark, {capture:true, passive:true});
});

document.addEventListener('visibilitychange', function(){
	window.lastVisibilityChange=Date.now();
}, {capture:true});

try{
	var observer=new MutationObserver(function(mutations){
		for(var i=0;i<mutations.length;i++){
			var m=mutations[i];
			if(m.type==='attributes'){
				var watched=['class','style','value','data-testid','aria-label','checked','selected'];
				if(watched.indexOf(m.attributeName)!==-1){
					window.lastDomModification=Date.now();
					break;
				}
			}else if(m.type==='childList'&&m.addedNodes.length>0){
				window.lastDomModification=Date.now();
				break;
			}else if(m.type==='characterData'){
				window.lastDomModification=Date.now();
				break;
			}
		}
	});
	observer.observe(document.documentElement||document, {
		attributes:true, childList:true, characterData:true, subtree:true
	});
}catch(e){}

window.__tabwatchSnapshot=function(){
	var now=Date.now();
	var active=document.activeElement;
	var tag=active&&active.tagName?active.tagName.toLowerCase():'';
	var lastActivityTime=Math.max(
		window.browserUseLastAction||0,
		window.lastInteractionTime||0,
		window.lastDomModification||0
	);
	var hasMarker=!!document.querySelector('[data-browser-use],.browser-use-target');
	var inputs=document.querySelectorAll('input,textarea,select');
	var hasInputFocusGlobal=false, hasFormActivity=false;
	for(var i=0;i<inputs.length;i++){
		if(document.activeElement===inputs[i])hasInputFocusGlobal=true;
		if(inputs[i].value&&String(inputs[i].value).length>0)hasFormActivity=true;
	}
	return {
		browserUseLastAction: window.browserUseLastAction||0,
		lastInteractionTime: window.lastInteractionTime||0,
		lastDomModification: window.lastDomModification||0,
		lastVisibilityChange: window.lastVisibilityChange||0,
		browserUseActive: !!window.browserUseActive,
		automationInProgress: !!window.automationInProgress,
		isVisible: document.visibilityState==='visible',
		hasFocus: document.hasFocus(),
		isActiveElement: !!active && active!==document.body,
		hasInputFocus: tag==='input'||tag==='textarea'||tag==='select',
		isLoading: document.readyState==='loading',
		hasAutomationMarker: hasMarker,
		hasInputFocusAnywhere: hasInputFocusGlobal,
		hasFormActivity: hasFormActivity,
		lastActivityTime: lastActivityTime,
		timeSinceLastActivity: now-lastActivityTime,
		now: now
	};
};
})();
`

// Snapshot is the decoded result of one call to window.__tabwatchSnapshot()
// (§4.4). Field names mirror the in-page globals one-to-one so the scorer
// in internal/follow reads them without translation.
type Snapshot struct {
	BrowserUseLastAction  int64 `json:"browserUseLastAction"`
	LastInteractionTime   int64 `json:"lastInteractionTime"`
	LastDomModification   int64 `json:"lastDomModification"`
	LastVisibilityChange  int64 `json:"lastVisibilityChange"`
	BrowserUseActive      bool  `json:"browserUseActive"`
	AutomationInProgress  bool  `json:"automationInProgress"`
	IsVisible             bool  `json:"isVisible"`
	HasFocus              bool  `json:"hasFocus"`
	IsActiveElement       bool  `json:"isActiveElement"`
	HasInputFocus         bool  `json:"hasInputFocus"`
	IsLoading             bool  `json:"isLoading"`
	HasAutomationMarker   bool  `json:"hasAutomationMarker"`
	HasInputFocusAnywhere bool  `json:"hasInputFocusAnywhere"`
	HasFormActivity       bool  `json:"hasFormActivity"`
	LastActivityTime      int64 `json:"lastActivityTime"`
	TimeSinceLastActivity int64 `json:"timeSinceLastActivity"`
	Now                   int64 `json:"now"`
}

// Empty is the "no activity" snapshot used when evaluation fails or
// overruns its bound — the contract in §4.4 requires bounded-time
// evaluation or this fallback, never a hang.
func Empty() Snapshot {
	return Snapshot{}
}

// EvalExpr is the single expression the caller evaluates via the page's
// Evaluate capability to retrieve one snapshot.
const EvalExpr = `window.__tabwatchSnapshot ? window.__tabwatchSnapshot() : null`
