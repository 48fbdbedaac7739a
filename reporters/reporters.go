// Package reporters provides the builtin reporter registry. A reporter is
// attached to a runner before execution starts and subscribes to whatever
// lifecycle events it needs.
package reporters

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/loupe-ci/loupe/events"
	"github.com/loupe-ci/loupe/runner"
)

// AttachFn attaches a reporter to a runner. path is the optional extra
// argument from a structured descriptor ("" when none was given).
type AttachFn func(r runner.Runner, path string) error

// NoSuchReporterError marks a registry lookup miss. It is distinct from a
// reporter's own attachment failure, which propagates unchanged.
type NoSuchReporterError struct {
	Name string
}

func (e *NoSuchReporterError) Error() string {
	return fmt.Sprintf("no such reporter: %q", e.Name)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]AttachFn{
		"flat": Flat,
		"json": JSON,
	}
)

// Register adds a reporter under the given name, replacing any builtin of
// the same name.
func Register(name string, fn AttachFn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Resolve looks up a reporter by name.
func Resolve(name string) (AttachFn, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	if !ok {
		return nil, &NoSuchReporterError{Name: name}
	}
	return fn, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening reporter output %q: %w", path, err)
	}
	return f, f.Close, nil
}

// JSON writes the final run statistics as a JSON document to path, or to
// stdout when no path is given.
func JSON(r runner.Runner, path string) error {
	r.Events().Once(events.End, func(payload any) {
		stats, ok := payload.(*runner.Stats)
		if !ok {
			return
		}
		out, closeOut, err := openOutput(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		defer closeOut() //nolint:errcheck
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
	})
	return nil
}
