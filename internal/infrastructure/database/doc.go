// Package database provides SQLite storage for the iDotMatrix bridge.
//
// It owns the connection lifecycle (Open, HealthCheck, Close) and schema
// migrations, which are goose-format SQL files embedded by the top-level
// migrations package.
//
// SQLite is used with a single connection: the bridge is the only writer and
// its write volume (display records and state snapshots) is small.
package database
