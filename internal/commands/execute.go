package commands

import "fmt"

type Result struct {
	Message string
}

type Handlers struct {
	Sync       func() (Result, error)
	Status     func() (Result, error)
	Push       func() (Result, error)
	Pull       func() (Result, error)
	Add        func(AddArgs) (Result, error)
	Complete   func(TargetArgs) (Result, error)
	Dismiss    func(TargetArgs) (Result, error)
	Snooze     func(SnoozeArgs) (Result, error)
	Reschedule func(RescheduleArgs) (Result, error)
}

func Execute(cmd Command, handlers Handlers) (Result, error) {
	switch cmd.Type {
	case TypeSync:
		return call0(cmd.Type, handlers.Sync)
	case TypeStatus:
		return call0(cmd.Type, handlers.Status)
	case TypePush:
		return call0(cmd.Type, handlers.Push)
	case TypePull:
		return call0(cmd.Type, handlers.Pull)
	case TypeAdd:
		return call1(cmd.Type, handlers.Add, cmd.Add)
	case TypeComplete:
		return call1(cmd.Type, handlers.Complete, cmd.Target)
	case TypeDismiss:
		return call1(cmd.Type, handlers.Dismiss, cmd.Target)
	case TypeSnooze:
		return call1(cmd.Type, handlers.Snooze, cmd.Snooze)
	case TypeReschedule:
		return call1(cmd.Type, handlers.Reschedule, cmd.Reschedule)
	default:
		return Result{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unknown command type: %s", cmd.Type)}
	}
}

func call0(typ Type, fn func() (Result, error)) (Result, error) {
	if fn == nil {
		return Result{}, missing(typ)
	}
	return fn()
}

func call1[A any](typ Type, fn func(A) (Result, error), args *A) (Result, error) {
	if fn == nil {
		return Result{}, missing(typ)
	}
	if args == nil {
		return Result{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("%s is missing its arguments", typ)}
	}
	return fn(*args)
}

func missing(typ Type) error {
	return &CommandError{Code: ErrCodeHandlerMissing, Message: fmt.Sprintf("%s handler not configured", typ)}
}
