package display

import "time"

// Source records how a display was added.
type Source string

const (
	SourceAPI       Source = "api"
	SourceConfig    Source = "config"
	SourceDiscovery Source = "discovery"
)

// Option defaults and limits.
const (
	DefaultScanInterval      = 30
	DefaultConnectionTimeout = 10
	DefaultRetryAttempts     = 3
)

// Options are the per-display tuning values.
// Intervals and timeouts are in seconds.
type Options struct {
	ScanInterval      int `json:"scan_interval" validate:"min=10,max=300"`
	ConnectionTimeout int `json:"connection_timeout" validate:"min=5,max=120"`
	RetryAttempts     int `json:"retry_attempts" validate:"min=1,max=10"`
}

// DefaultOptions returns the built-in option defaults.
func DefaultOptions() Options {
	return Options{
		ScanInterval:      DefaultScanInterval,
		ConnectionTimeout: DefaultConnectionTimeout,
		RetryAttempts:     DefaultRetryAttempts,
	}
}

// WithDefaults fills zero-valued fields from defaults.
func (o Options) WithDefaults(defaults Options) Options {
	if o.ScanInterval == 0 {
		o.ScanInterval = defaults.ScanInterval
	}
	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = defaults.RetryAttempts
	}
	return o
}

// ScanIntervalDuration returns ScanInterval as a time.Duration.
func (o Options) ScanIntervalDuration() time.Duration {
	return time.Duration(o.ScanInterval) * time.Second
}

// ConnectionTimeoutDuration returns ConnectionTimeout as a time.Duration.
func (o Options) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(o.ConnectionTimeout) * time.Second
}

// Display is a configured iDotMatrix panel.
// MACAddress is canonical: upper case, colon separated, unique across displays.
type Display struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MACAddress string `json:"mac_address"`
	Options
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the display. Display holds no reference types,
// so a value copy is a deep copy.
func (d *Display) Clone() *Display {
	c := *d
	return &c
}

// StoredState is the last optimistic state snapshot saved for a display.
// It is restored on startup so a restart does not reset what the bridge
// last believed the panel was showing.
type StoredState struct {
	IsOn            bool
	Brightness      int
	ScreenFlipped   bool
	CurrentMode     string
	ClockStyle      string
	EffectMode      string
	LastMessage     string
	ChronographMode string
	UpdatedAt       time.Time
}
