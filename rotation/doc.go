// Package rotation implements usage-driven key rotation for encrypted engine
// traffic.
//
// Every enabled (keyspace, tier) pair carries a state machine:
//
//	Idle -> Pending -> InProgress -> Idle
//	Pending -> FailedTimeout -> InProgress
//	any non-busy state -> FailedThreshold -> InProgress
//	InProgress -> FailedRotation (until Recover)
//
// A Scheduler tick refreshes the UsageLedger from consumer counters, asks the
// ThresholdPolicy whether the lower or upper limit was crossed, and moves the
// pair accordingly. Graceful rotations wait for every bound consumer to
// quiesce; forced rotations abort the ones that did not. The Executor derives
// and installs replacement keys through an interfaces.KeyDeriver and resets
// usage on success.
//
// Each pair is guarded by its own lock. Rotation tasks are dispatched to a
// WorkQueue after the lock is released, and timer callbacks take the same lock,
// so a tick never waits on a rotation.
package rotation
