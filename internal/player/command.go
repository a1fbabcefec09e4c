package player

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Verb identifies a directive the media engine understands.
type Verb string

const (
	VerbSeek      Verb = "seek"
	VerbPlay      Verb = "play"
	VerbPause     Verb = "pause"
	VerbSetSpeed  Verb = "set_speed"
	VerbSetVolume Verb = "set_volume"
	VerbObserve   Verb = "observe"
)

// Priority orders commands in the dispatch queue. Urgent commands are the
// ones a user is actively waiting on.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityUrgent
)

// Source records who originated a command, so sync corrections can be told
// apart from user actions and API calls.
type Source string

const (
	SourceUser       Source = "user"
	SourceCorrection Source = "sync-correction"
	SourceAPI        Source = "api"
)

// SeekModeAbsolute is the only seek mode the sync core issues; the wire
// format also admits "relative" for API callers.
const (
	SeekModeAbsolute = "absolute"
	SeekModeRelative = "relative"
)

var commandID atomic.Int64

// NextCommandID returns a process-wide monotonic command identifier.
func NextCommandID() int64 {
	return commandID.Add(1)
}

// Command is a single immutable directive destined for the engine. Retries
// must build a new Command with the same verb and args.
type Command struct {
	ID        int64
	Verb      Verb
	Args      []any
	Priority  Priority
	Source    Source
	CreatedAt time.Time
	Deadline  time.Time
}

// NewCommand builds a command with a fresh ID and creation timestamp. The
// deadline is assigned by the dispatcher when the command is accepted.
func NewCommand(verb Verb, source Source, args ...any) Command {
	priority := PriorityNormal
	switch verb {
	case VerbSeek, VerbPlay, VerbPause:
		priority = PriorityUrgent
	}
	return Command{
		ID:        NextCommandID(),
		Verb:      verb,
		Args:      args,
		Priority:  priority,
		Source:    source,
		CreatedAt: time.Now(),
	}
}

// Validate checks verb recognition and argument arity/types before the
// command is allowed anywhere near the queue.
func (c Command) Validate() error {
	switch c.Verb {
	case VerbSeek:
		if len(c.Args) != 2 {
			return fmt.Errorf("%w: seek requires position and mode, got %d args", ErrInvalidCommand, len(c.Args))
		}
		pos, ok := numericArg(c.Args[0])
		if !ok {
			return fmt.Errorf("%w: seek position must be numeric", ErrInvalidCommand)
		}
		mode, ok := c.Args[1].(string)
		if !ok || (mode != SeekModeAbsolute && mode != SeekModeRelative) {
			return fmt.Errorf("%w: seek mode must be %q or %q", ErrInvalidCommand, SeekModeAbsolute, SeekModeRelative)
		}
		if mode == SeekModeAbsolute && pos < 0 {
			return fmt.Errorf("%w: absolute seek position must not be negative", ErrInvalidCommand)
		}
	case VerbPlay, VerbPause:
		if len(c.Args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidCommand, c.Verb)
		}
	case VerbSetSpeed:
		if len(c.Args) != 1 {
			return fmt.Errorf("%w: set_speed requires exactly one argument", ErrInvalidCommand)
		}
		speed, ok := numericArg(c.Args[0])
		if !ok || speed <= 0 {
			return fmt.Errorf("%w: set_speed argument must be a positive number", ErrInvalidCommand)
		}
	case VerbSetVolume:
		if len(c.Args) != 1 {
			return fmt.Errorf("%w: set_volume requires exactly one argument", ErrInvalidCommand)
		}
		vol, ok := integerArg(c.Args[0])
		if !ok || vol < 0 || vol > 100 {
			return fmt.Errorf("%w: set_volume argument must be an integer in 0..100", ErrInvalidCommand)
		}
	case VerbObserve:
		if len(c.Args) != 1 {
			return fmt.Errorf("%w: observe requires a property name", ErrInvalidCommand)
		}
		if name, ok := c.Args[0].(string); !ok || name == "" {
			return fmt.Errorf("%w: observe property name must be a non-empty string", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unrecognized verb %q", ErrInvalidCommand, c.Verb)
	}
	return nil
}

// WireRequest converts the command into its wire representation.
func (c Command) WireRequest() Request {
	cmd := make([]any, 0, len(c.Args)+1)
	cmd = append(cmd, string(c.Verb))
	cmd = append(cmd, c.Args...)
	return Request{Command: cmd, RequestID: c.ID}
}

func numericArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func integerArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
