// Package integration contains the Integration bounded context.
// This context manages the incremental synchronization of tenant-owned
// relational sources into the canonical store.
//
// Key concepts:
//   - EntityKind: the synchronized entity kinds (customers, representatives, products, orders)
//   - TenantIntegration: a tenant's source connection, mappings and watermarks
//   - Watermark: the per-kind cursor marking the latest source change already written
//   - SyncSummary / RunSummary: the counters a run reports
//   - Ports: the canonical store contract consumed by the engine
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
