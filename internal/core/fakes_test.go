package core

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

// fakeExecutor records commands and answers them through handle.
type fakeExecutor struct {
	calls  []Command
	handle func(c Command) (Result, error)
}

func (f *fakeExecutor) Run(_ context.Context, c Command) (Result, error) {
	f.calls = append(f.calls, c)
	if f.handle == nil {
		return Result{}, nil
	}
	return f.handle(c)
}

// commandLines returns each recorded call as "name arg arg".
func (f *fakeExecutor) commandLines() []string {
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = c.String()
	}
	return lines
}

func okResult(stdout string) (Result, error) {
	return Result{Stdout: stdout, Output: stdout}, nil
}

func failedResult(output string) (Result, error) {
	return Result{ExitCode: 1, Output: output}, nil
}

func hasArgs(c Command, args ...string) bool {
	return strings.HasPrefix(strings.Join(c.Args, " "), strings.Join(args, " "))
}

// stubSource is a VersionSource backed by maps.
type stubSource struct {
	versions map[string][]string
	latest   map[string]string
	err      error
}

func (s *stubSource) ListVersions(_ context.Context, name string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.versions[name], nil
}

func (s *stubSource) LatestVersion(_ context.Context, name string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.latest[name], nil
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
