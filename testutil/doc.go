// Package testutil provides fakes shared by resourcekit tests.
//
//   - MemoryReader: settable resident/physical memory with error injection
//   - StorageMaintainer: records optimize and cleanup calls, can fail on demand
//   - RecordingObserver: counts memory warnings and background transitions
//   - MockNATSClient: in-memory pub/sub matching the events.Subscriber signature
//
// None of the fakes need external services. Tests that need real Postgres or NATS
// use testcontainers behind the integration build tag instead.
package testutil
