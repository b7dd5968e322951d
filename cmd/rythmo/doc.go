// Command rythmo is the operator CLI for the rythmo job daemon.
//
// `rythmo serve` runs the daemon in the foreground; `rythmo daemon start|stop`
// manages a detached one. The remaining commands talk to a running daemon over
// its HTTP API: project create/show, start/status/cancel for the four
// pipelines, health, and watch, which streams job events over a websocket.
// Output is rendered as tables and colored only when stdout is a terminal.
package main
