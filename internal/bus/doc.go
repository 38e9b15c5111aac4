// Package bus defines the queue topology shared by the daemon's agents and
// the brokers that carry it. Every queue is durable and consumed by a single
// loop; a message is acknowledged once its handler returns successfully and
// dead-lettered when the handler fails, so one bad message never blocks the
// queue behind it.
package bus
