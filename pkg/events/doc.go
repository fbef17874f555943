/*
Package events is the in-process event bus of the failover controller.

The controller publishes an Event for every peer state transition and every
cloud action outcome. Subscribers, the bbolt journal in particular, receive
them on buffered channels. Publish never blocks the control loop; when a
buffer is full the event is dropped and counted.

Events carry a UUID, a timestamp, the publishing node and free-form
metadata such as from/to states, the route table or the instance acted on.
*/
package events
