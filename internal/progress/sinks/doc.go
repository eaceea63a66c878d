// Package sinks contains progress.Sink implementations that log, export,
// persist, render and expose conversion run events.
package sinks
