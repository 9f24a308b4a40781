package offline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGeneration   = "imitation-player-v2"
	DefaultAudioMarker  = "/audio/"
	DefaultRootDocument = "/index.html"
)

// DefaultShell lists the resources needed to render the player offline.
var DefaultShell = []string{
	"/",
	"/index.html",
	"/slash.html",
	"/css/style.css",
	"/css/slash.css",
	"/js/app.js",
	"/js/player.js",
	"/js/state.js",
	"/js/ui.js",
	"/js/slash-app.js",
	"/js/slash-state.js",
	"/js/slash-ui.js",
	"/data.json",
	"/slash-data.json",
	"/manifest.json",
	"/icons/icon.svg",
}

var (
	// ErrNetwork is returned when the network failed and no cached copy exists.
	ErrNetwork = errors.New("offline: network request failed")
	// ErrInstallFailed is returned when the shell could not be pre-populated.
	ErrInstallFailed = errors.New("offline: shell install failed")
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("offline: generation not installed")
)

// Policy is the caching strategy applied to a single request.
type Policy int

const (
	PolicyPassThrough Policy = iota
	PolicyCacheFirst
	PolicyNetworkFirst
)

func (p Policy) String() string {
	switch p {
	case PolicyPassThrough:
		return "passthrough"
	case PolicyCacheFirst:
		return "cache_first"
	case PolicyNetworkFirst:
		return "network_first"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// SelectPolicy maps a request shape to a policy. Rules are evaluated in order:
// non-GET and Range requests pass through, paths containing audioMarker are
// cache-first, everything else is network-first.
func SelectPolicy(method, path string, header http.Header, audioMarker string) Policy {
	if method != http.MethodGet {
		return PolicyPassThrough
	}
	if header.Get("Range") != "" {
		return PolicyPassThrough
	}
	if audioMarker != "" && strings.Contains(path, audioMarker) {
		return PolicyCacheFirst
	}
	return PolicyNetworkFirst
}

// IsNavigation reports whether the request loads a full page.
func IsNavigation(method string, header http.Header) bool {
	if method != http.MethodGet {
		return false
	}
	if mode := header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(header.Get("Accept"), "text/html")
}

// RequestKey is the method-independent identity of a request: its absolute
// URL without fragment.
func RequestKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// Entry is a stored response.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewEntry captures resp under key. The caller owns body.
func NewEntry(key string, resp *http.Response, body []byte, now time.Time) *Entry {
	h := resp.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Del("Content-Length")
	return &Entry{URL: key, Status: resp.StatusCode, Header: h, Body: body, StoredAt: now.UTC()}
}

// Response rebuilds an *http.Response for req. Each call gets its own body.
func (e *Entry) Response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// OK reports a 2xx status, the only responses worth storing.
func OK(status int) bool { return status >= 200 && status < 300 }
