package proxy

import (
	"net/http"
	"strings"
)

// isBrowserNavigation reports whether r looks like a browser loading a page
// in its address bar, as opposed to an API call, asset fetch, or WebSocket
// upgrade. Only navigation requests are offered the cold-start HTML page;
// everything else waits for the backend to become ready, up to the acquire
// deadline.
func isBrowserNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Upgrade") != "" {
		return false
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		return false
	}
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" && dest != "document" {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" && mode != "navigate" {
		return false
	}
	return true
}
