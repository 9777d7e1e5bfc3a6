// Package kms provides the key-derivation service used by the rotation
// executor.
//
// A Deriver expands a fresh seed per (pair, generation) with HKDF-SHA256 into
// an H2D key, a D2H key and an IV mask for each, then installs both keys
// through the hardware KeyInstaller of the configured generation. Seeds come
// from a pluggable SeedSource:
//
// # LocalSeedSource
//
// Deterministic seeds hashed from a master key. Suitable for development and
// testing; the same master key yields the same key sequence after a restart.
//
// # VaultSeedSource
//
// Seeds are 256-bit data keys from a HashiCorp Vault transit key
// (datakey/plaintext endpoint), bound to the pair and generation through the
// request context.
//
// # AWSKMSSeedSource
//
// Seeds are AES-256 data keys from AWS KMS GenerateDataKey, with the pair and
// generation as encryption context.
//
// # Usage Example
//
//	factory := kms.NewSeedSourceFactory(logger)
//	source, err := factory.SeedSourceFor("vault://vault.internal:8200/transit/accel-keys")
//	if err != nil {
//	    return err
//	}
//	deriver, err := kms.NewDeriver(source, slotBank, logger)
//
// Any error returned by DeriveKeys is final for that attempt; the caller must
// not retry automatically.
package kms
