// Package display manages the set of configured iDotMatrix panels.
//
// A Display is the persistent record for one panel: its MAC address, a
// friendly name and the per-display options that drive its session
// (scan interval, connection timeout, retry attempts). Records live in the
// SQLite displays table; the Registry caches them and enforces the rules
// every entry point shares:
//
//   - MAC addresses must be six hex octets separated by ':' or '-', and are
//     stored upper-case with ':' separators
//   - a MAC address can be configured at most once (ErrDuplicateMAC)
//   - options stay within scan_interval 10-300 s, connection_timeout 5-120 s
//     and retry_attempts 1-10 (ErrInvalidOptions)
//
// The registry also stores the last optimistic state snapshot of each panel
// (display_state table) so it can be restored after a restart.
package display
