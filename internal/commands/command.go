// Package commands parses the one-line commands accepted by the watch screen
// and dispatches them to handlers.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeSync       Type = "sync"
	TypeStatus     Type = "status"
	TypePush       Type = "push"
	TypePull       Type = "pull"
	TypeAdd        Type = "add"
	TypeComplete   Type = "complete"
	TypeSnooze     Type = "snooze"
	TypeDismiss    Type = "dismiss"
	TypeReschedule Type = "reschedule"
)

type ErrorCode string

const (
	ErrCodeEmptyInput      ErrorCode = "empty_input"
	ErrCodeUnknownCommand  ErrorCode = "unknown_command"
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrCodeHandlerMissing  ErrorCode = "handler_missing"
)

type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AddArgs carries a title and an optional "due:" token, either an offset
// from now ("due:2h", "due:1d") or an RFC 3339 time.
type AddArgs struct {
	Title    string
	DueIn    time.Duration
	DueAt    *time.Time
	Advances []int
}

type TargetArgs struct {
	Target string
}

type SnoozeArgs struct {
	Target string
	For    time.Duration
}

type RescheduleArgs struct {
	Target string
	In     time.Duration
	At     *time.Time
	Clear  bool
}

type Command struct {
	Type       Type
	Raw        string
	Add        *AddArgs
	Target     *TargetArgs
	Snooze     *SnoozeArgs
	Reschedule *RescheduleArgs
}

func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}
	if strings.HasPrefix(raw, "/") {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "/"))
	}
	if raw == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}

	parts := strings.Fields(raw)
	head := strings.ToLower(parts[0])
	args := parts[1:]

	switch Type(head) {
	case TypeSync, TypeStatus, TypePush, TypePull:
		return Command{Type: Type(head), Raw: input}, nil
	case TypeAdd:
		return parseAdd(input, args)
	case TypeComplete, TypeDismiss:
		return parseTarget(input, Type(head), args)
	case TypeSnooze:
		return parseSnooze(input, args)
	case TypeReschedule:
		return parseReschedule(input, args)
	default:
		return Command{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unsupported command: %s", head)}
	}
}

func parseAdd(raw string, args []string) (Command, error) {
	out := AddArgs{}
	title := make([]string, 0, len(args))
	for _, arg := range args {
		lower := strings.ToLower(arg)
		switch {
		case strings.HasPrefix(lower, "due:"):
			in, at, err := parseWhen(arg[len("due:"):])
			if err != nil {
				return Command{}, err
			}
			out.DueIn, out.DueAt = in, at
		case strings.HasPrefix(lower, "remind:"):
			advances, err := parseAdvances(arg[len("remind:"):])
			if err != nil {
				return Command{}, err
			}
			out.Advances = advances
		default:
			title = append(title, arg)
		}
	}
	out.Title = strings.TrimSpace(strings.Join(title, " "))
	if out.Title == "" {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "add requires a title"}
	}
	return Command{Type: TypeAdd, Raw: raw, Add: &out}, nil
}

func parseTarget(raw string, typ Type, args []string) (Command, error) {
	if len(args) != 1 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("%s requires exactly one id", typ)}
	}
	return Command{Type: typ, Raw: raw, Target: &TargetArgs{Target: args[0]}}, nil
}

func parseSnooze(raw string, args []string) (Command, error) {
	if len(args) != 2 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "snooze requires a reminder id and a duration"}
	}
	d, err := ParseDuration(args[1])
	if err != nil {
		return Command{}, err
	}
	if d <= 0 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "snooze duration must be positive"}
	}
	return Command{Type: TypeSnooze, Raw: raw, Snooze: &SnoozeArgs{Target: args[0], For: d}}, nil
}

func parseReschedule(raw string, args []string) (Command, error) {
	if len(args) != 2 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "reschedule requires a task id and a time"}
	}
	out := RescheduleArgs{Target: args[0]}
	if strings.EqualFold(args[1], "none") {
		out.Clear = true
		return Command{Type: TypeReschedule, Raw: raw, Reschedule: &out}, nil
	}
	in, at, err := parseWhen(args[1])
	if err != nil {
		return Command{}, err
	}
	out.In, out.At = in, at
	return Command{Type: TypeReschedule, Raw: raw, Reschedule: &out}, nil
}

func parseWhen(s string) (time.Duration, *time.Time, error) {
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return 0, &at, nil
	}
	d, err := ParseDuration(s)
	if err != nil {
		return 0, nil, err
	}
	return d, nil, nil
}

// ParseDuration extends time.ParseDuration with a "d" (24h) unit.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("invalid duration %q", s)}
	}
	return d, nil
}

func parseAdvances(s string) ([]int, error) {
	out := make([]int, 0, 4)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := ParseDuration(part)
		if err != nil {
			if n, convErr := strconv.Atoi(part); convErr == nil {
				d = time.Duration(n) * time.Minute
			} else {
				return nil, err
			}
		}
		if d < 0 {
			return nil, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("negative advance %q", part)}
		}
		out = append(out, int(d/time.Minute))
	}
	return out, nil
}
