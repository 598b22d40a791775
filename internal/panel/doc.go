// Package panel serves the browser console for the bridge.
//
// The console is a single page that lists the configured displays, sends
// commands through the REST API and follows session events over the
// WebSocket. Its assets are embedded with go:embed; a directory on disk can
// replace them while editing the page.
package panel
