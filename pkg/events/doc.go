/*
Package events records the actions the scaler takes.

Components publish informational events (a service was scaled, a scale
command failed, a service carries invalid labels, a node was removed) to a
Broker. The broker fans them out to subscribers; the scaler binary attaches
one subscriber that writes every event to the log.

	Engine / Reconciler / Janitor
	            │ Publish (never blocks)
	            ▼
	   event queue (buffer: 100)
	            │ broadcast loop
	            ▼
	subscriber channels (buffer: 50 each)

Events are not part of the control loop. Publish drops the event and
counts it when the queue is full rather than slowing down a sweep, and a
slow subscriber only misses its own copies.

# Event Types

	service.scaled        old and new replica count
	service.scale_failed  target count and orchestrator error
	service.invalid       validation error of the scaler labels
	node.removed          node removed by the janitor
	node.remove_failed    janitor removal the orchestrator rejected

Every event gets a UUID and a timestamp when published.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for e := range sub {
			fmt.Println(e.Type, e.Message)
		}
	}()

	broker.Publish(events.ServiceScaled(id, "web", 2, 3))

Components take a Publisher so they can run with Discard in tests.
*/
package events
