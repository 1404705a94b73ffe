// Package storage defines the narrow store contracts the gateway core
// depends on: a key-value namespace with per-key TTL and prefix listing,
// and an append-mostly request log with per-caller aggregation.
//
// Adapters (memory, postgres) implement these interfaces. The core never
// assumes atomic read-modify-write across keys; counter updates are
// best-effort under the backing store's own consistency model.
package storage
