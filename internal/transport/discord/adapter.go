package discord

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "kavitabot/internal/runtime/supervisor"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

type Config struct {
	Token   string
	GuildID string
	Status  string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	sess *discordgo.Session
	out  atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	selfID  atomic.Value // string
	ready   chan struct{}
	readyMu sync.Once

	ephMu     sync.RWMutex
	ephemeral map[string]bool

	droppedUpdates atomic.Int64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:       cfg,
		log:       log,
		sess:      s,
		ready:     make(chan struct{}),
		ephemeral: map[string]bool{},
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.selfID.Store("")
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			a.selfID.Store(r.User.ID)
		}
		if a.cfg.Status != "" {
			if err := s.UpdateListeningStatus(a.cfg.Status); err != nil {
				a.log.Warn("set status failed", logx.Err(err))
			}
		}
		a.readyMu.Do(func() { close(a.ready) })
		a.log.Info("gateway ready", logx.String("user_id", a.SelfID()))
	})

	a.sess.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		cmd := commandFromInteraction(i.Interaction)
		flags := discordgo.MessageFlags(0)
		if a.isEphemeral(cmd.Name) {
			flags = discordgo.MessageFlagsEphemeral
		}
		// Acknowledge within Discord's 3s window; handlers answer via Reply.
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: flags},
		})
		if err != nil {
			a.log.Warn("defer interaction failed", logx.String("command", cmd.Name), logx.Err(err))
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCommand, Command: cmd})
	})

	a.sess.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.MessageReaction == nil || r.UserID == a.SelfID() {
			return
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateReaction, Reaction: &kit.Reaction{
			MessageID: r.MessageID,
			ChannelID: r.ChannelID,
			GuildID:   r.GuildID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.Name,
		}})
	})
}

func commandFromInteraction(i *discordgo.Interaction) *kit.Command {
	data := i.ApplicationCommandData()
	cmd := &kit.Command{
		Name:      data.Name,
		Options:   make(map[string]kit.Option, len(data.Options)),
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Handle:    i,
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		cmd.UserID = user.ID
		cmd.Username = user.Username
	}
	for _, o := range data.Options {
		if o == nil {
			continue
		}
		var opt kit.Option
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			opt.String = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			opt.Int = o.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			opt.Bool = o.BoolValue()
		}
		cmd.Options[o.Name] = opt
	}
	return cmd
}

func (a *Adapter) isEphemeral(name string) bool {
	a.ephMu.RLock()
	defer a.ephMu.RUnlock()
	return a.ephemeral[name]
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) SelfID() string {
	s, _ := a.selfID.Load().(string)
	return s
}

// Start opens the gateway and waits for the Ready event.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.sess.Open(); err != nil {
		a.runMu.Lock()
		a.running = false
		a.runMu.Unlock()
		_ = sup.Stop(context.Background())
		return err
	}

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("discord gateway not ready after 30s")
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping", logx.Int64("dropped_updates_pending", a.droppedUpdates.Load()))
	if err := a.sess.Close(); err != nil {
		a.log.Warn("gateway close failed", logx.Err(err))
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Debug("supervisor stopped with error", logx.Err(err))
		}
	}
	return nil
}

// RegisterCommands replaces the bot's slash commands in the configured
// guild, or globally when no guild is set.
func (a *Adapter) RegisterCommands(ctx context.Context, specs []kit.CommandSpec) error {
	appID := a.SelfID()
	if appID == "" {
		return errors.New("discord: register commands before ready")
	}
	eph := make(map[string]bool, len(specs))
	for _, s := range specs {
		eph[s.Name] = s.Ephemeral
	}
	a.ephMu.Lock()
	a.ephemeral = eph
	a.ephMu.Unlock()

	_, err := a.sess.ApplicationCommandBulkOverwrite(appID, a.cfg.GuildID, toApplicationCommands(specs), discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	a.log.Info("slash commands registered", logx.Int("count", len(specs)), logx.String("guild_id", a.cfg.GuildID))
	return nil
}

func toApplicationCommands(specs []kit.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		ac := &discordgo.ApplicationCommand{Name: s.Name, Description: s.Description}
		for _, o := range s.Options {
			typ := discordgo.ApplicationCommandOptionString
			switch o.Type {
			case kit.OptInt:
				typ = discordgo.ApplicationCommandOptionInteger
			case kit.OptBool:
				typ = discordgo.ApplicationCommandOptionBoolean
			}
			ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
				Type:        typ,
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			})
		}
		out = append(out, ac)
	}
	return out
}

func (a *Adapter) Send(ctx context.Context, channelID string, msg kit.Message) (kit.MessageRef, error) {
	m, err := a.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: msg.Content,
		Embeds:  toEmbeds(msg.Embeds),
		Files:   toFiles(msg.Files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, mapErr(err)
	}
	return kit.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (a *Adapter) SendDM(ctx context.Context, userID string, msg kit.Message) (kit.MessageRef, error) {
	ch, err := a.sess.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, mapErr(err)
	}
	return a.Send(ctx, ch.ID, msg)
}

func (a *Adapter) React(ctx context.Context, ref kit.MessageRef, emoji string) error {
	return mapErr(a.sess.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)))
}

// Reply answers a deferred interaction. The first call edits the
// placeholder; later calls post follow-ups.
func (a *Adapter) Reply(ctx context.Context, cmd *kit.Command, msg kit.Message) error {
	in, ok := cmd.Handle.(*discordgo.Interaction)
	if !ok || in == nil {
		return errors.New("discord: command has no interaction")
	}
	embeds := toEmbeds(msg.Embeds)
	if cmd.MarkReplied() {
		edit := &discordgo.WebhookEdit{Files: toFiles(msg.Files)}
		if msg.Content != "" {
			edit.Content = &msg.Content
		}
		if len(embeds) > 0 {
			edit.Embeds = &embeds
		}
		_, err := a.sess.InteractionResponseEdit(in, edit, discordgo.WithContext(ctx))
		return mapErr(err)
	}
	params := &discordgo.WebhookParams{
		Content: msg.Content,
		Embeds:  embeds,
		Files:   toFiles(msg.Files),
	}
	if msg.Ephemeral || a.isEphemeral(cmd.Name) {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := a.sess.FollowupMessageCreate(in, true, params, discordgo.WithContext(ctx))
	return mapErr(err)
}

func toEmbeds(in []kit.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		if e.Thumbnail != "" {
			me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

func toFiles(in []kit.File) []*discordgo.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(in))
	for _, f := range in {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return out
}

// mapErr turns Discord refusals into kit.ErrForbidden so callers can tell
// "user blocks DMs" from transient failures.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser {
			return errors.Join(kit.ErrForbidden, err)
		}
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusForbidden {
			return errors.Join(kit.ErrForbidden, err)
		}
	}
	return err
}
