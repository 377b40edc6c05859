// Package neuromancer coordinates distributed job execution.
//
// Executors keep a consistent-hash ring of librarian addresses and use it to
// decide which librarian owns each job identifier. Membership arrives as a
// checksummed list, either through the administrative RPC service or from the
// librarians registered in etcd. When a librarian leaves, the identifiers it
// owned are rebalanced onto the remaining librarians and custody is handed
// over with a checksummed remap request that the new owner acknowledges.
//
// Shared state is held behind guards that survive a panicking writer: the
// next acquirer repairs the state instead of failing forever.
//
// Packages:
//
//	checksum   seeded 64-bit integrity tokens over canonical payload bytes
//	wire       payload types and their canonical byte forms
//	guard      poison-aware read/write guard with bounded retries
//	ring       membership set and consistent-hash ring
//	ownership  identifier ownership table and rebalancer
//	custody    ordered, retried custody transfers
//	executor   membership changes, routing and rebalancing
//	librarian  job graph store and custody acceptance
//	rpc        gRPC services, clients and status mapping
//	discovery  etcd registration and membership watch
//	config     process configuration
package neuromancer
