// Package transport is the BLE capability layer between display sessions
// and the radio.
//
// Sessions talk to a Display: one method per panel capability, plus a
// side-effect-free IsConnected used as the liveness signal. Display is
// implemented once, by FramedDisplay, which encodes the iDotMatrix command
// frames (protocol.go, glyph.go) and writes them to a Link.
//
// Each supported BLE library provides a Backend (Dialer + Scanner) in its
// own sub-package:
//
//	bluez      BlueZ over D-Bus (github.com/godbus/dbus/v5)
//	tinygoble  tinygo.org/x/bluetooth
//	goble      github.com/go-ble/ble, Linux HCI
//	simulator  in-memory panel for development and tests
//
// The adapters package selects one by the ble.driver configuration value.
package transport
