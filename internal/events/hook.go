package events

import "time"

// HookStart is emitted before a hook is invoked.
type HookStart struct {
	Runtime string
	Hook    string
}

// HookFinish is emitted after a hook returns.
type HookFinish struct {
	Runtime  string
	Hook     string
	Err      error
	Duration time.Duration
}
