// Package goble is the github.com/go-ble/ble backend.
//
// It opens the HCI controller directly (raw socket), bypassing bluetoothd,
// which needs CAP_NET_ADMIN. The backend is built on Linux only; other
// platforms get a stub whose methods return ErrUnsupported.
package goble
