// Package consumerhandler lets consumers running outside the service process
// take part in key rotation over HTTP, and provides the matching client.
//
//	POST   /api/v1/consumers                register against a key pair
//	PUT    /api/v1/consumers/{id}/usage     report cumulative counters
//	PUT    /api/v1/consumers/{id}/quiesced  set or clear the quiesced flag
//	GET    /api/v1/consumers/{id}/events    fetch queued events, ?wait=5s long-polls
//	DELETE /api/v1/consumers/{id}           tear down
//
// Reported counters are cumulative and must never decrease.
package consumerhandler
