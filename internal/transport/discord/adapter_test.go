package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

func TestCommandFromInteraction(t *testing.T) {
	t.Parallel()

	in := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "c1",
		GuildID:   "g1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "reader"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "series-info",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "series_name", Type: discordgo.ApplicationCommandOptionString, Value: "Berserk"},
				{Name: "series_id", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(42)},
				{Name: "verbose", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			},
		},
	}
	cmd := commandFromInteraction(in)
	if cmd.Name != "series-info" || cmd.UserID != "u1" || cmd.Username != "reader" || cmd.ChannelID != "c1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if s, ok := cmd.Str("series_name"); !ok || s != "Berserk" {
		t.Fatalf("series_name = %q %v", s, ok)
	}
	if n, _ := cmd.Int("series_id"); n != 42 {
		t.Fatalf("series_id = %d", n)
	}
	if b, _ := cmd.Bool("verbose"); !b {
		t.Fatalf("verbose not set")
	}
	if _, ok := cmd.Str("missing"); ok {
		t.Fatalf("missing option reported present")
	}
	if cmd.Handle != in {
		t.Fatalf("handle not kept")
	}
}

func TestCommandFromDirectInteraction(t *testing.T) {
	t.Parallel()

	in := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "u2", Username: "dm"},
		Data: discordgo.ApplicationCommandInteractionData{Name: "list-notifications"},
	}
	cmd := commandFromInteraction(in)
	if cmd.UserID != "u2" || cmd.GuildID != "" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestToApplicationCommands(t *testing.T) {
	t.Parallel()

	got := toApplicationCommands([]kit.CommandSpec{{
		Name:        "random-manga",
		Description: "Pick a random series",
		Options: []kit.OptionSpec{
			{Name: "library", Description: "Library", Type: kit.OptString},
			{Name: "series_id", Description: "Id", Type: kit.OptInt, Required: true},
			{Name: "enabled", Description: "On/off", Type: kit.OptBool},
		},
	}})
	if len(got) != 1 || len(got[0].Options) != 3 {
		t.Fatalf("unexpected: %+v", got)
	}
	want := []discordgo.ApplicationCommandOptionType{
		discordgo.ApplicationCommandOptionString,
		discordgo.ApplicationCommandOptionInteger,
		discordgo.ApplicationCommandOptionBoolean,
	}
	for i, o := range got[0].Options {
		if o.Type != want[i] {
			t.Fatalf("option %d type = %v, want %v", i, o.Type, want[i])
		}
	}
	if !got[0].Options[1].Required {
		t.Fatalf("required flag lost")
	}
}

func TestToEmbeds(t *testing.T) {
	t.Parallel()

	got := toEmbeds([]kit.Embed{{
		Title:     "Berserk",
		Color:     0x4ac694,
		ImageURL:  kit.AttachmentURL("cover.jpg"),
		Footer:    "Kavita",
		Fields:    []kit.EmbedField{{Name: "Author", Value: "Miura", Inline: true}},
		Thumbnail: "",
	}})
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	e := got[0]
	if e.Image == nil || e.Image.URL != "attachment://cover.jpg" {
		t.Fatalf("image = %+v", e.Image)
	}
	if e.Thumbnail != nil {
		t.Fatalf("empty thumbnail should be omitted")
	}
	if e.Footer == nil || e.Footer.Text != "Kavita" || len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Fatalf("unexpected embed: %+v", e)
	}
	if toEmbeds(nil) != nil || toFiles(nil) != nil {
		t.Fatalf("empty input should map to nil")
	}
}

func TestMapErr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		forbidden bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"status 403", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}, true},
		{"dm closed", &discordgo.RESTError{
			Response: &http.Response{StatusCode: http.StatusBadRequest},
			Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeCannotSendMessagesToThisUser},
		}, true},
		{"status 500", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusInternalServerError}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapErr(tc.err)
			if tc.err == nil && err != nil {
				t.Fatalf("nil mapped to %v", err)
			}
			if errors.Is(err, kit.ErrForbidden) != tc.forbidden {
				t.Fatalf("forbidden = %v, want %v", errors.Is(err, kit.ErrForbidden), tc.forbidden)
			}
		})
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
