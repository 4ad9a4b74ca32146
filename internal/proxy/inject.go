package proxy

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
)

// injectableTypes are the only response content types the beacon is
// written into. Everything else passes through untouched.
var injectableTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

func isInjectable(contentType string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if _, ok := injectableTypes[strings.ToLower(mediaType)]; !ok {
		return false
	}
	// The snippet is UTF-8 text; splicing it into a body in another
	// encoding would corrupt the page.
	switch strings.ToLower(params["charset"]) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

// beaconSnippet builds the marker comment plus the invisible tracking
// image pointing at the callback endpoint.
func beaconSnippet(id, callbackBase string) []byte {
	return []byte(fmt.Sprintf(
		`<!-- injected id=%s --><img src="%s?id=%s&source=proxy-inject" style="display:none">`,
		id, callbackBase, id))
}

// injectBeacon places the snippet before the last </body> tag,
// case-insensitive, so nested or commented-out body tags earlier in the
// document do not fool it. Documents without </body> get the snippet
// appended; the second return reports that fallback.
func injectBeacon(body []byte, id, callbackBase string) ([]byte, bool) {
	snippet := beaconSnippet(id, callbackBase)
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx < 0 {
		return append(body, snippet...), true
	}
	out := make([]byte, 0, len(body)+len(snippet))
	out = append(out, body[:idx]...)
	out = append(out, snippet...)
	out = append(out, body[idx:]...)
	return out, false
}
