// Package jobs defines scheduled job definitions and loads them from the
// jobs document.
package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingID      = errors.New("job has no id")
	ErrNoTrigger      = errors.New("job has no trigger fields")
	ErrInvalidTrigger = errors.New("job trigger is invalid")
	ErrUnknownAction  = errors.New("unknown job type")
	ErrUnknownCommand = errors.New("unknown command name")
	ErrMissingChannel = errors.New("job has no channel_id")
	ErrMissingMessage = errors.New("send_message job has no message")
	ErrDuplicateID    = errors.New("duplicate job id")
)

type ActionKind string

const (
	ActionSendMessage ActionKind = "send_message"
	ActionRunCommand  ActionKind = "run_command"
)

// Command is the closed set of commands a run_command job may name.
type Command string

const (
	CmdServerStats       Command = "server-stats"
	CmdUserNotifications Command = "user_notifications"
	CmdHealthCheck       Command = "health_check"
	CmdRecentlyUpdated   Command = "recently_updated"
)

var commandNames = map[string]Command{
	"server-stats":       CmdServerStats,
	"server_stats":       CmdServerStats,
	"mangastats":         CmdServerStats,
	"user_notifications": CmdUserNotifications,
	"user-notifications": CmdUserNotifications,
	"health_check":       CmdHealthCheck,
	"health-check":       CmdHealthCheck,
	"recently_updated":   CmdRecentlyUpdated,
	"recently-updated":   CmdRecentlyUpdated,
}

// Commands lists the canonical command names.
func Commands() []Command {
	return []Command{CmdServerStats, CmdUserNotifications, CmdHealthCheck, CmdRecentlyUpdated}
}

// ParseCommand maps a configured name (or alias) to a Command.
func ParseCommand(name string) (Command, error) {
	c, ok := commandNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return c, nil
}

// Action is a tagged union: Text is set for send_message, Command for
// run_command.
type Action struct {
	Kind      ActionKind
	ChannelID string
	Text      string
	Command   Command
}

func SendMessage(channelID, text string) Action {
	return Action{Kind: ActionSendMessage, ChannelID: channelID, Text: text}
}

func RunCommand(channelID string, cmd Command) Action {
	return Action{Kind: ActionRunCommand, ChannelID: channelID, Command: cmd}
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionSendMessage:
		if strings.TrimSpace(a.ChannelID) == "" {
			return ErrMissingChannel
		}
		if a.Text == "" {
			return ErrMissingMessage
		}
	case ActionRunCommand:
		if _, err := ParseCommand(string(a.Command)); err != nil {
			return err
		}
		if strings.TrimSpace(a.ChannelID) == "" && a.Command != CmdUserNotifications {
			return ErrMissingChannel
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return nil
}

func (a Action) String() string {
	if a.Kind == ActionRunCommand {
		return string(a.Kind) + ":" + string(a.Command)
	}
	return string(a.Kind)
}

// Job is immutable after load.
type Job struct {
	ID      string
	Trigger Trigger
	Action  Action
	Enabled bool
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return ErrMissingID
	}
	if j.Trigger == nil {
		return ErrNoTrigger
	}
	if _, err := j.Trigger.Spec(); err != nil {
		return err
	}
	return j.Action.Validate()
}
