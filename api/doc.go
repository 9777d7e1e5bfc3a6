/*
Package api defines the HTTP surface of the key rotation service.

It is organized into two handler subpackages, each shipping its own client:

1. rotationhandler - operator endpoints: key pair status, manual trigger,
   recovery of failed rotations and the global rotation toggle
2. consumerhandler - remote consumer endpoints: registration, cumulative
   usage reports, the quiesced flag and the event mailbox

This package holds the JSON types shared by both and the server
configuration used by the httpserver package.

# Key Pair Addressing

Key pairs are addressed as /{space}/{tier} in URLs, for example
/api/v1/keypairs/2/user, and as "ks2/user" in JSON bodies.

# Consumer Lifecycle

A remote consumer registers against a key pair, then periodically reports
its cumulative counters. When it receives a pending status it drains its
in-flight work and sets itself quiesced; the rotation proceeds once every
consumer of the pair is quiesced. An abort event means the rotation was
forced and in-flight work must be discarded. After rotation the consumer is
told the idle status and its quiesced flag is cleared.
*/
package api
