package plugins

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDependency is matched by every *DependencyError.
	ErrDependency = errors.New("plugin dependency error")
	// ErrUnknownPlugin is returned for operations on a plugin that is not loaded.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrDuplicatePlugin is returned when two factories produce the same name.
	ErrDuplicatePlugin = errors.New("duplicate plugin")
)

// DependencyError describes a plugin graph that cannot be ordered.
type DependencyError struct {
	Plugin  string
	Missing string   // set when Plugin depends on an unregistered plugin
	Cycle   []string // set when the graph has a cycle, first name repeated at the end
}

func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("plugin dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("plugin %s depends on missing plugin %s", e.Plugin, e.Missing)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

// HookError wraps an error or panic raised inside a plugin hook.
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
