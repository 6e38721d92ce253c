package proc

import (
	"context"
	"io"
	"sync"
)

// Call is one recorded invocation of a Fake.
type Call struct {
	Command Command
	Stdin   string
}

// Fake is an in-memory Executor. Respond decides the result of each call;
// a nil Respond returns an empty successful Output.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	Respond func(call Call) (Output, error)
}

// Run records cmd, draining Stdin, and returns Respond's result.
func (f *Fake) Run(_ context.Context, cmd Command) (Output, error) {
	call := Call{Command: cmd}
	if cmd.Stdin != nil {
		data, _ := io.ReadAll(cmd.Stdin)
		call.Stdin = string(data)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.Respond
	f.mu.Unlock()

	if respond == nil {
		return Output{}, nil
	}
	return respond(call)
}

// Calls returns a copy of the recorded invocations in call order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
