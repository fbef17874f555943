/*
Package storage persists the controller's event journal in BoltDB.

Every peer state transition and cloud action outcome published on the event
broker is appended to a single bucket, keyed by a monotonically increasing
sequence. Retention bounds the journal: once it holds more than Retention
events the oldest are deleted on append.

The journal lives in <dataDir>/journal.db. bbolt allows one writer per file,
so `natfailover history` opens it read-only and waits up to a timeout for a
running controller to release the lock; point it at a copy of the file when
the controller is running.
*/
package storage
