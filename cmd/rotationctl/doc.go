// Package main (cmd/rotationctl) is the operator CLI of the key rotation service.
//
//	rotationctl status
//	rotationctl status ks2/user
//	rotationctl trigger ks2/user
//	rotationctl recover ks2/user
//	rotationctl disable
package main
