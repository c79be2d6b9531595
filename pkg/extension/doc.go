// Package extension loads out-of-process tool providers and keeps their
// tools registered in the dispatcher.
//
// An extension is a directory under the extensions root carrying an
// extension.json manifest and a provider binary served with
// hashicorp/go-plugin over net/rpc. Load scans the root once; failures
// are isolated per package so one bad extension never blocks the rest.
// Reload discards all runtime state and scans fresh.
//
// Invariants:
// - Extension names are unique within the loaded set.
// - A disabled extension contributes no tools to the dispatcher.
// - Provider subprocesses die with Unregister, Reload and Shutdown.
package extension
