package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
)

// ServiceType is the DNS-SD service type of the bridge API.
const ServiceType = "_idotmatrix._tcp"

const (
	domain = "local."

	defaultRetryInterval = 30 * time.Second
	defaultRetryWindow   = 5 * time.Minute
)

// ErrNoInterfaces means no interface can carry multicast DNS.
var ErrNoInterfaces = errors.New("mdns: no usable network interface")

// virtualPrefixes are container and VPN interfaces that should not advertise.
var virtualPrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// Config describes what to advertise.
type Config struct {
	// Instance is the advertised name. Default: the host name.
	Instance string

	Port     int
	BridgeID string
	Version  string
	APIPath  string

	// RetryInterval and RetryWindow bound background re-registration.
	RetryInterval time.Duration
	RetryWindow   time.Duration

	Clock clockwork.Clock
}

// Logger defines the logging interface used by the Advertiser.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// shutdowner is the part of *zeroconf.Server the advertiser uses.
type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser publishes the API over mDNS until Stop.
type Advertiser struct {
	cfg        Config
	logger     Logger
	register   registerFunc
	interfaces func() ([]net.Interface, error)

	mu      sync.Mutex
	server  shutdowner
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates an advertiser. Nothing is sent until Start.
func New(cfg Config) *Advertiser {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = defaultRetryWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Instance == "" {
		cfg.Instance = instanceName(cfg.BridgeID)
	}
	return &Advertiser{
		cfg:        cfg,
		logger:     noopLogger{},
		register:   zeroconfRegister,
		interfaces: net.Interfaces,
	}
}

// SetLogger sets the logger. Call before Start.
func (a *Advertiser) SetLogger(l Logger) {
	a.logger = l
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string {
	return a.cfg.Instance
}

// Start registers the service. When the network is not ready it keeps
// retrying in the background for RetryWindow and returns nil.
func (a *Advertiser) Start(ctx context.Context) error {
	if a.cfg.Port <= 0 {
		return fmt.Errorf("mdns: invalid port %d", a.cfg.Port)
	}
	err := a.tryRegister()
	if err == nil {
		return nil
	}
	a.logger.Info("mDNS registration failed, retrying in background",
		"error", err, "retry_interval", a.cfg.RetryInterval, "window", a.cfg.RetryWindow)

	retryCtx, cancel := context.WithTimeout(ctx, a.cfg.RetryWindow)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.retryLoop(retryCtx)
	return nil
}

// Stop withdraws the advertisement. Safe to call multiple times.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	server := a.server
	a.server = nil
	a.mu.Unlock()

	a.wg.Wait()
	if server != nil {
		server.Shutdown()
		a.logger.Debug("mDNS advertisement withdrawn")
	}
}

// Registered reports whether the service is currently advertised.
func (a *Advertiser) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func (a *Advertiser) retryLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := a.cfg.Clock.NewTicker(a.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := a.tryRegister(); err == nil {
				return
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				a.logger.Warn("mDNS registration gave up, bridge will not be discoverable")
			}
			return
		}
	}
}

func (a *Advertiser) tryRegister() error {
	all, err := a.interfaces()
	if err != nil {
		return fmt.Errorf("listing interfaces: %w", err)
	}
	ifaces := usableInterfaces(all)
	if len(ifaces) == 0 {
		return ErrNoInterfaces
	}

	server, err := a.register(a.cfg.Instance, ServiceType, domain, a.cfg.Port, a.txtRecords(), ifaces)
	if err != nil {
		return fmt.Errorf("registering %s: %w", ServiceType, err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		server.Shutdown()
		return nil
	}
	a.server = server
	a.mu.Unlock()

	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}
	a.logger.Info("mDNS advertisement started",
		"instance", a.cfg.Instance, "type", ServiceType, "port", a.cfg.Port, "interfaces", names)
	return nil
}

func (a *Advertiser) txtRecords() []string {
	txt := []string{"id=" + a.cfg.BridgeID, "version=" + a.cfg.Version}
	if a.cfg.APIPath != "" {
		txt = append(txt, "path="+a.cfg.APIPath)
	}
	return txt
}

// usableInterfaces keeps interfaces that are up, multicast-capable, not
// loopback and not virtual.
func usableInterfaces(all []net.Interface) []net.Interface {
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 ||
			isVirtual(iface.Name) {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func instanceName(bridgeID string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	if bridgeID != "" {
		return bridgeID
	}
	return "idotmatrix-bridge"
}
