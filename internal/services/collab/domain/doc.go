// Package domain holds the pure value types and validation rules for the
// collaboration admission engine: collaborations, their requirement slot
// groups, and the applications that fill them. Nothing in this package
// performs I/O; persistence and concurrency live in the storage and ledger
// packages.
package domain
