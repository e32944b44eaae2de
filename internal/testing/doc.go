// Package testing provides fakes, builders, and helpers shared by unit and
// end-to-end tests.
//
//   - MemTable: in-memory iptables.Table
//   - FakeRuntime: in-memory container runtime with scripted exec results
//   - FakeClock: manual clock for retry state machines
//   - MemStore: in-memory template and service library
//   - RecordingObserver: provisioning.Observer that keeps every event
//   - DocumentBuilder: fluent builder for compose documents
//
// Usage:
//
//	doc := testing.NewDocumentBuilder().
//	    WithImage("db", "images:alpine/3.19").
//	    WithImage("web", "images:alpine/3.19", "db").
//	    Build()
package testing
