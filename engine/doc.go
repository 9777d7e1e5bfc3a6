// Package engine models the hardware side of key rotation: the keyspace
// layout of each hardware generation and the key-install service that programs
// derived keys into engine slots.
//
// A Layout is injected at construction into the rotation controller and the
// key deriver; nothing switches on the generation at call time.
package engine
