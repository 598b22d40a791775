// Package process supervises a long-running child daemon.
//
// The bridge uses it to run bluetoothd inside containers that have no init
// system. A Supervisor starts the binary in its own process group, forwards
// its output to the logger line by line and restarts it after a crash.
// An optional probe acts as a watchdog: after enough consecutive probe
// failures the daemon is killed and restarted like any other crash.
//
//	sup := process.New(process.Config{
//	    Name:   "bluetoothd",
//	    Binary: "/usr/libexec/bluetooth/bluetoothd",
//	    Args:   []string{"--nodetach"},
//	    Probe:  backend.EnsurePowered,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
