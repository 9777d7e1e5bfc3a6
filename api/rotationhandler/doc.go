// Package rotationhandler serves the operator endpoints of the key rotation
// service and provides a client for them.
//
//	GET  /api/v1/keypairs                        status of every pair
//	GET  /api/v1/keypairs/{space}/{tier}         status of one pair
//	POST /api/v1/keypairs/{space}/{tier}/trigger force a rotation on the next tick
//	POST /api/v1/keypairs/{space}/{tier}/recover retry a failed rotation
//	GET  /api/v1/rotation/enabled                global toggle
//	PUT  /api/v1/rotation/enabled                set the global toggle
package rotationhandler
