// Package notify delivers rotation events to consumers.
//
// ChannelTransport keeps a bounded mailbox per consumer. Notify never blocks:
// when a mailbox is full the event is dropped and counted, and the consumer
// is expected to re-read the pair status. LogTransport records every event,
// and FanOut combines transports.
package notify
