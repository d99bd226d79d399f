/*
Package events provides an in-process publish/subscribe broker for tinymistd.

Components publish lifecycle events (binary installed, preview server started
or evicted, language server crashed) and user-facing messages onto a Broker.
Subscribers such as the admin API or the CLI read from buffered channels.

# Delivery

	Publish ──▶ eventCh (100) ──▶ run() ──▶ broadcast ──┬─▶ sub (50)
	                                                    ├─▶ sub (50)
	                                                    └─▶ sub (50)

Publish never blocks the caller. Events are dropped when the broker queue or a
subscriber buffer is full, or after Stop. A nil *Broker is valid and discards
everything, so components can be built without one.

# Notifications

Notifier is the "tell the user" sink used by acquisition and resolution:

	n := events.NewNotifier(broker)
	n.Warn("Binary file does not exist")

BrokerNotifier logs the message and publishes it as user.warning or
user.error. Recorder keeps messages in memory and Discard drops them.
*/
package events
