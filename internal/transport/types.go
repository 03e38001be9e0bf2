package transport

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrForbidden is returned when the platform refuses delivery, for example
// a user who does not accept direct messages.
var ErrForbidden = errors.New("delivery forbidden")

type UpdateKind string

const (
	UpdateCommand  UpdateKind = "command"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Command  *Command
	Reaction *Reaction
}

// Option is one slash-command argument as received.
type Option struct {
	String string
	Int    int64
	Bool   bool
}

// Command is an invoked slash command. Handle carries the platform
// interaction; adapters use it to respond.
type Command struct {
	Name      string
	Options   map[string]Option
	UserID    string
	Username  string
	ChannelID string
	GuildID   string
	Handle    any

	replied atomic.Bool
}

func (c *Command) Str(name string) (string, bool) {
	o, ok := c.Options[name]
	return o.String, ok
}

func (c *Command) Int(name string) (int64, bool) {
	o, ok := c.Options[name]
	return o.Int, ok
}

func (c *Command) Bool(name string) (bool, bool) {
	o, ok := c.Options[name]
	return o.Bool, ok
}

// MarkReplied reports whether this was the first reply. Adapters use it
// to choose between editing the deferred response and a follow-up.
func (c *Command) MarkReplied() (first bool) {
	return c.replied.CompareAndSwap(false, true)
}

// Reaction is an emoji added to a message by a user.
type Reaction struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	Emoji     string
}

// Direct reports whether the reaction happened in a private channel.
func (r *Reaction) Direct() bool { return r.GuildID == "" }

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	ImageURL    string
	Thumbnail   string
	Footer      string
	Fields      []EmbedField
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// AttachmentURL references a File of the same message from an embed.
func AttachmentURL(name string) string { return "attachment://" + name }

type Message struct {
	Content   string
	Embeds    []Embed
	Files     []File
	Ephemeral bool
}

func Text(s string) Message { return Message{Content: s} }

type MessageRef struct {
	ChannelID string
	MessageID string
}

// Sender posts to channels and users and adds reactions.
type Sender interface {
	Send(ctx context.Context, channelID string, msg Message) (MessageRef, error)
	SendDM(ctx context.Context, userID string, msg Message) (MessageRef, error)
	React(ctx context.Context, ref MessageRef, emoji string) error
}

// Responder answers slash commands. The first Reply replaces the deferred
// "thinking" response; later replies are follow-ups.
type Responder interface {
	Reply(ctx context.Context, cmd *Command, msg Message) error
}

type OptionType int

const (
	OptString OptionType = iota
	OptInt
	OptBool
)

type OptionSpec struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

// CommandSpec describes a slash command for registration.
type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
	Ephemeral   bool
}

type Adapter interface {
	Sender
	Responder
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	RegisterCommands(ctx context.Context, specs []CommandSpec) error
	SelfID() string
}
