// Package audit provides the asynchronous audit pipeline behind stepup's
// AuditSink surface.
//
// A [Dispatcher] owns one goroutine that drains a bounded channel into a
// [Sink]. With DropIfFull the emitting request never blocks; dropped events
// are counted and reported through Config.OnDrop.
//
// # What this package must NOT do
//
//   - Import stepup or any sibling internal package.
//   - Write secrets, codes, or proofs into events.
package audit
