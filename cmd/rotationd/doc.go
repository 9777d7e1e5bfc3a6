// Package main (cmd/rotationd) runs the key rotation service.
//
// The service watches the usage of every enabled engine key pair, asks
// consumers to quiesce once the lower usage limit is crossed, and installs
// fresh keys derived from the configured seed source. Rotation is forced when
// the upper limit is crossed or when user-tier consumers fail to quiesce in
// time.
//
// Remote consumers and operators talk to the service over HTTP (see the
// api/consumerhandler and api/rotationhandler packages). Prometheus metrics are
// served on a separate address.
//
// Example usage with a local master key:
//
//	rotationd --key-source local://$(openssl rand -hex 32) --layout gen2 --log-debug
//
// With Vault transit:
//
//	VAULT_TOKEN=... rotationd --key-source vault://vault.internal:8200/transit/engine-keys
package main
