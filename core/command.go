package orchestration

import (
	"errors"
	"fmt"
)

type Action string

const (
	ActionStart        Action = "start"
	ActionStop         Action = "stop"
	ActionUpdateConfig Action = "update_config"
)

var ErrUnknownAction = errors.New("unknown control action")

// Command is a control request from the consumer.
type Command struct {
	Action Action
	Config ConfigUpdate
}

// Handle dispatches a command. Commands that do not apply to the current
// state are ignored; only unknown actions are reported.
func (o *Orchestrator) Handle(cmd Command) error {
	switch cmd.Action {
	case ActionStart:
		o.Start(cmd.Config)
	case ActionStop:
		o.Stop()
	case ActionUpdateConfig:
		o.UpdateConfig(cmd.Config)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	return nil
}
