// Package tinygoble is the tinygo.org/x/bluetooth backend.
//
// It uses the library's default adapter; on Linux that is the first
// controller BlueZ reports, so ble.adapter is ignored. The backend is built
// on Linux only; other platforms get a stub whose methods return
// ErrUnsupported.
package tinygoble
