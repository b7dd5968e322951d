// Package events fans job state changes out to watchers.
//
// Hub keeps a bounded buffer of recent events for long-poll clients and
// pushes new events to websocket subscribers. Bridge relays events between
// daemons over Redis pub/sub so a cancel request accepted by one node reaches
// a job running on another.
package events
