/*
Package telemetry records typed metric values, stores them according to their
lifetime and extracts them into named pings (batched telemetry reports).

# Overview

An Engine is created once per process (or once per test) with Open and shared by
every caller. Metrics are declared up front with an identity (category and name),
a lifetime and the pings they are sent in:

	e, err := telemetry.Open(telemetry.WithDataDir(dir))
	if err != nil {
	    return err
	}
	defer e.Close()

	osVersion := e.String(telemetry.CommonMetricData{
	    Category:    "core",
	    Name:        "os_version",
	    Lifetime:    telemetry.LifetimeApplication,
	    SendInPings: []string{"metrics"},
	})
	osVersion.Set("Android 29")

	payload, err := e.Collect("metrics") // nil when nothing is stored

Supported kinds are string, string list, counter, boolean and timespan. The
generic Register/Record pair covers all of them for bindings that work with
handles instead of typed metrics.

# Lifetimes

  - LifetimePing values live in memory and are cleared by each Collect of the ping.
  - LifetimeApplication values are persisted and cleared when the engine is opened
    again (see WithStartupHook and WithApplicationLifetimeKept).
  - LifetimeUser values are persisted until cleared explicitly.

Persistence uses SQLite inside the directory given to WithDataDir, or any
DurableStore. When storage fails the engine continues in memory and counts the
failure under "telemetry.internal.storage_unavailable".

How it works (high level)

 1. Registration validates the identity, resolves the ping set and returns a
    Handle. The same identifier registered again yields the same Handle.
 2. Recording validates the value on the caller's goroutine (strings are
    truncated to 50 code points by default) and enqueues it.
 3. A single dispatcher goroutine applies queued work in FIFO order to the
    in-memory partitions and writes durable lifetimes through to storage.
 4. Collect and the Test* methods are queued behind pending work, so they observe
    every recording submitted before them.

Invalid values never reach the caller as errors. They are counted under
"telemetry.error.<error_type>/<identifier>" in the metric's pings.

# Testing

Open the engine WithTestingMode to use TestAwaitIdle, TestGetValue, TestHasValue,
TestGetNumRecordedErrors and TestReset. The typed metrics carry TestGetValue and
TestHasValue wrappers.

# Build and test

	go test ./...

Registration mistakes (invalid names, conflicting kinds) made through the typed
constructors panic under the race detector or with the debug build tag, and are
logged otherwise:

	go test -race ./...
	go test -tags=debug ./...
*/
package telemetry
