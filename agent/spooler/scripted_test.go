package spooler

import (
	"context"
	"sync"
)

// scriptedRunner answers commands from a table keyed by "name arg1 arg2".
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]Result
	calls   []Command
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: make(map[string]Result)}
}

func (r *scriptedRunner) on(cmdline string, res Result) {
	r.results[cmdline] = res
}

func (r *scriptedRunner) Run(ctx context.Context, c Command) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if res, ok := r.results[c.String()]; ok {
		return res
	}
	return Result{ExitCode: 127, Stderr: c.Name + ": not scripted"}
}

func (r *scriptedRunner) commandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.String()
	}
	return out
}

func ok(stdout string) Result { return Result{Stdout: stdout} }

func failed(code int, stderr string) Result {
	return Result{ExitCode: code, Stderr: stderr}
}

