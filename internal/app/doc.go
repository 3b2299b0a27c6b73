// Package app wires the ledger's domain services, storage and lifecycle
// management into one application object consumed by the HTTP layer and the
// server binary.
package app
