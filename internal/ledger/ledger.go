// Package ledger implements the tamper-evident block chain that records
// auditable events of the academic workflow (user, role, presentation,
// assessment, notification and date changes).
//
// Every block carries the digest of its predecessor. The first block links to
// GenesisHash (64 hex zeros). A block's digest covers its sequence number, the
// previous digest, its payload and its store-assigned timestamp, so rewriting
// any of those without rewriting every later block is reported by Verify.
//
// Three Store implementations are provided:
//   - MemoryStore: in-process, for tests and development.
//   - PostgresStore: durable, for production use.
//   - BadgerStore: embedded durable store for single-node deployments.
//
// Chain runs the append and verification protocols over any Store, and
// Auditor renders per-entity audit trails.
package ledger
