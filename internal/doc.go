// Package internal contains helpers that are private to agencyauth: secure random
// generation for verification codes, session ids and sortable record ids.
//
// # Sub-packages
//
//   - audit: async audit dispatch (Dispatcher + Sink implementations)
//   - config: service configuration loading for cmd/agencyauth-server
//   - rate: Redis-backed fixed-window throttles
//   - stores: Redis verification code ledger
//
// # What this package must NOT do
//
//   - Export types that appear in the public agencyauth API.
//   - Be imported by any package outside the agencyauth module.
package internal
