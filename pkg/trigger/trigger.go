// Package trigger implements the independently running trigger sources:
// producers that emit a Trigger token onto a shared bounded channel. Both
// shipped sources (ConfigMapPoller, Webhook) implement the same Source
// contract so a third source can be added without touching the engine.
package trigger

import "context"

// Source is the common contract every trigger source implements.
// Run blocks until the source's own stop channel or ctx is done; Stop
// requests cooperative shutdown and is safe to call multiple times; Alive
// reports whether Run has returned. This is the same method set as
// supervisor.Component, which the supervisor already drives the engine through.
type Source interface {
	Name() string
	Run(ctx context.Context) error
	Stop()
	Alive() bool
}
