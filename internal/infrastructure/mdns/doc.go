// Package mdns advertises the bridge API on the local network with DNS-SD,
// so dashboards and phones can find it without a configured address.
//
// The service type is _idotmatrix._tcp. TXT records carry the bridge ID,
// version and API base path. Registration retries in the background while
// the network is not up yet.
package mdns
