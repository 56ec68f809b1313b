package fingerprint

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/nao1215/keyharvest/internal/model"
)

// WebGL parameter ids for the unmasked vendor and renderer strings.
const (
	glUnmaskedVendor   = 37445
	glUnmaskedRenderer = 37446
)

var chromeMajor = regexp.MustCompile(`Chrome/(\d+)`)

// InitScripts returns the scripts that must run before any page script to
// make the page observe id. The order is stable.
func InitScripts(id model.Identity) []string {
	var scripts []string

	if len(id.Languages) > 0 {
		scripts = append(scripts, fmt.Sprintf(
			`Object.defineProperty(navigator,'languages',{get:()=>%s});Object.defineProperty(navigator,'language',{get:()=>%s});`,
			jsValue(id.Languages), jsValue(id.Languages[0])))
	}
	if id.Hardware.Cores > 0 {
		scripts = append(scripts, fmt.Sprintf(
			`Object.defineProperty(navigator,'hardwareConcurrency',{get:()=>%d});`, id.Hardware.Cores))
	}
	if id.Hardware.MemoryGB > 0 {
		scripts = append(scripts, fmt.Sprintf(
			`Object.defineProperty(navigator,'deviceMemory',{get:()=>%d});`, id.Hardware.MemoryGB))
	}
	if id.UserAgent != "" {
		scripts = append(scripts, clientHintsScript(id.UserAgent))
	}
	if id.Hardware.WebGLVendor != "" {
		scripts = append(scripts, webGLScript(id.Hardware))
	}
	if id.CanvasNoise {
		scripts = append(scripts, fmt.Sprintf(canvasNoiseTemplate, id.NoiseSeed))
	}
	if id.AudioNoise {
		scripts = append(scripts, fmt.Sprintf(audioNoiseTemplate, id.NoiseSeed))
	}
	if id.FontSpoofing {
		scripts = append(scripts, fontScript)
	}
	return scripts
}

func clientHintsScript(ua string) string {
	major := "120"
	if m := chromeMajor.FindStringSubmatch(ua); m != nil {
		major = m[1]
	}
	brands := []map[string]string{
		{"brand": "Not_A Brand", "version": "8"},
		{"brand": "Chromium", "version": major},
		{"brand": "Google Chrome", "version": major},
	}
	return fmt.Sprintf(
		`Object.defineProperty(navigator,'platform',{get:()=>'Win32'});`+
			`if(navigator.userAgentData){const b=%s;Object.defineProperty(navigator,'userAgentData',{get:()=>({brands:b,mobile:false,platform:'Windows',`+
			`getHighEntropyValues:()=>Promise.resolve({brands:b,mobile:false,platform:'Windows',platformVersion:'10.0.0',architecture:'x86',bitness:'64',uaFullVersion:%s})})});}`,
		jsValue(brands), jsValue(major+".0.0.0"))
}

func webGLScript(hw model.Hardware) string {
	return fmt.Sprintf(
		`(()=>{const patch=(proto)=>{const orig=proto.getParameter;proto.getParameter=function(p){`+
			`if(p===%d)return %s;if(p===%d)return %s;return orig.call(this,p);};};`+
			`patch(WebGLRenderingContext.prototype);if(window.WebGL2RenderingContext)patch(WebGL2RenderingContext.prototype);})();`,
		glUnmaskedVendor, jsValue(hw.WebGLVendor), glUnmaskedRenderer, jsValue(hw.WebGLRenderer))
}

const canvasNoiseTemplate = `(()=>{let s=%d;const rnd=()=>{s=(s*1103515245+12345)&0x7fffffff;return s/0x7fffffff;};` +
	`const orig=CanvasRenderingContext2D.prototype.getImageData;CanvasRenderingContext2D.prototype.getImageData=function(...a){` +
	`const d=orig.apply(this,a);for(let i=0;i<d.data.length;i+=4){d.data[i]=d.data[i]^(rnd()<0.01?1:0);}return d;};})();`

const audioNoiseTemplate = `(()=>{let s=%d;const rnd=()=>{s=(s*1103515245+12345)&0x7fffffff;return s/0x7fffffff;};` +
	`const orig=AudioBuffer.prototype.getChannelData;AudioBuffer.prototype.getChannelData=function(...a){` +
	`const d=orig.apply(this,a);for(let i=0;i<d.length;i+=100){d[i]=d[i]+(rnd()-0.5)*1e-7;}return d;};})();`

const fontScript = `(()=>{const allowed=new Set(['Arial','Calibri','Cambria','Consolas','Courier New','Georgia','Segoe UI','Tahoma','Times New Roman','Verdana']);` +
	`if(document.fonts&&document.fonts.check){const orig=document.fonts.check.bind(document.fonts);` +
	`document.fonts.check=function(f,...a){const m=/(?:^|\s)["']?([^"',]+)["']?\s*$/.exec(f);if(m&&!allowed.has(m[1]))return false;return orig(f,...a);};}})();`

func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
