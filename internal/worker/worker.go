// Package worker provides background task infrastructure for the client.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

// Func adapts a function to the Worker interface.
type Func struct {
	WorkerName string
	RunFunc    func(ctx context.Context) error
}

// Name returns the worker name.
func (f Func) Name() string { return f.WorkerName }

// Run invokes the wrapped function.
func (f Func) Run(ctx context.Context) error { return f.RunFunc(ctx) }
