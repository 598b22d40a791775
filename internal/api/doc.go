// Package api provides the HTTP REST API and WebSocket server of the bridge.
//
// It exposes display registration, per-display state and commands, BLE
// discovery and a WebSocket stream of session events to admin tools and
// dashboards. Commands use the same vocabulary as the MQTT command topic.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Routes (all under /api/v1):
//
//	GET    /health
//	GET    /displays
//	POST   /displays
//	GET    /displays/{id}
//	PATCH  /displays/{id}
//	DELETE /displays/{id}
//	GET    /displays/{id}/state
//	POST   /displays/{id}/commands
//	POST   /displays/{id}/refresh
//	GET    /discovery?timeout=5
//	GET    /ws
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
