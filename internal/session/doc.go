// Package session manages BLE sessions to iDotMatrix displays.
//
// A Session holds at most one transport handle and serialises connect,
// refresh and every command behind a single lock. Display state is
// optimistic: it records what the bridge last told the panel, never what
// the panel reports, and is always marked unconfirmed.
//
// The Manager owns one Session per configured display and runs their
// periodic refresh loops:
//
//	mgr := session.NewManager(driver,
//	    session.WithLogger(log),
//	    session.WithStateStore(registry),
//	)
//	mgr.AddSink(bridge)
//	mgr.Add(ctx, d)
//	mgr.Start(ctx)
//	defer mgr.Stop(context.Background())
//
// Events are delivered to sinks after the session lock is released.
package session
