// Package adapter pushes domain changes through the per-item sync state
// machine into a Sink.
//
// Every item moves Pending → Filtered | Converting; Converting →
// ConversionFailed | Applying; Applying → Applied | LockTimeout | Error.
// Failures are captured per item and never abort a batch. PushAll runs items
// concurrently through a bounded worker pool and aggregates the outcomes
// with result.Flatten.
package adapter
