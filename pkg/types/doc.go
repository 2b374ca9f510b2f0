/*
Package types defines the shared data model of the flyctf proxy.

A Challenge is the descriptor produced by discovery for one challenge
directory: its public and internal ports, its compose manifest, and one
ServiceState per compose service. Descriptors are immutable after
discovery except for the per-service runtime observations, which the
readiness engine refreshes on every probe. Observations are guarded by a
per-descriptor lock; readers take value snapshots via Service or Target.
*/
package types
