// Package interfaces defines the core types and collaborator contracts of the
// key-rotation controller, separating interface definitions from implementations.
//
// # Key Identifiers
//
// KeyID is the raw global key id used at the hardware boundary. KeyPairID is
// the strongly typed (keyspace, tier) index used everywhere else; KeyPair
// resolves it to the H2D/D2H ids, which differ only in D2HBit. PairOfKey maps
// either member back to the same pair.
//
// # Usage and Status
//
//   - UsageStats: bytes encrypted and encrypt operations of one key id
//   - PairUsage: usage of both members of a pair
//   - RotationState: the per-pair state machine value
//   - Status: the four codes consumers observe (idle, pending and the two
//     forced-rotation codes, which both mean possible data loss)
//
// # Collaborators
//
//   - KeyDeriver: derives and installs replacement keys (package kms)
//   - KeyInstaller: programs a key into an engine (package engine)
//   - SeedSource: entropy for a key generation (local, Vault, AWS KMS)
//   - ConsumerTransport: fire-and-forget consumer notification (package notify)
//   - UsageCounter: consumer-owned usage counters
//   - Layout: the keyspaces of a hardware generation
package interfaces
