package commands

import (
	"time"

	kit "kavitabot/internal/transport"
)

// Command names.
const (
	ServerStats        = "server-stats"
	SeriesInfo         = "series-info"
	SeriesCover        = "series-cover"
	NextUpdate         = "next-update"
	MangaSearch        = "manga-search"
	RecentlyUpdated    = "recently-updated"
	InviteMe           = "invite-me"
	ServerAddress      = "server-address"
	RandomManga        = "random-manga"
	NotifyMe           = "notify-me"
	RemoveNotification = "remove-notification"
	ListNotifications  = "list-notifications"
	NotificationToggle = "notification-toggle"
	AddManga           = "add-manga"
	BotInfo            = "bot-info"
)

var commandOrder = []string{
	ServerStats, SeriesInfo, SeriesCover, NextUpdate, MangaSearch, RecentlyUpdated,
	InviteMe, ServerAddress, RandomManga, NotifyMe, RemoveNotification,
	ListNotifications, NotificationToggle, AddManga, BotInfo,
}

var seriesOptions = []kit.OptionSpec{
	{Name: "series_name", Description: "Series name to look up", Type: kit.OptString},
	{Name: "series_id", Description: "Series id to look up", Type: kit.OptInt},
}

func (s *Service) table() map[string]route {
	routes := []route{
		{
			spec:   kit.CommandSpec{Name: ServerStats, Description: "Show manga server statistics"},
			handle: s.serverStats,
		},
		{
			spec: kit.CommandSpec{
				Name:        SeriesInfo,
				Description: "Show information about a series",
				Options: append(append([]kit.OptionSpec{}, seriesOptions...),
					kit.OptionSpec{Name: "verbose", Description: "Include genres and chapter count", Type: kit.OptBool}),
			},
			handle: s.seriesInfo,
		},
		{
			spec:   kit.CommandSpec{Name: SeriesCover, Description: "Show the cover of a series", Options: seriesOptions},
			handle: s.seriesCover,
		},
		{
			spec:   kit.CommandSpec{Name: NextUpdate, Description: "Predict when the next chapter of a series lands", Options: seriesOptions},
			handle: s.nextUpdate,
		},
		{
			spec: kit.CommandSpec{
				Name:        MangaSearch,
				Description: "Search the manga server",
				Options:     []kit.OptionSpec{{Name: "query", Description: "Text to search for", Type: kit.OptString, Required: true}},
			},
			timeout: 90 * time.Second,
			handle:  s.mangaSearch,
		},
		{
			spec:   kit.CommandSpec{Name: RecentlyUpdated, Description: "List recently updated series"},
			handle: s.recentlyUpdated,
		},
		{
			spec: kit.CommandSpec{
				Name:        InviteMe,
				Description: "Get an invite to the manga server",
				Options:     []kit.OptionSpec{{Name: "email", Description: "Address to send the invite to", Type: kit.OptString, Required: true}},
				Ephemeral:   true,
			},
			handle: s.inviteMe,
		},
		{
			spec:   kit.CommandSpec{Name: ServerAddress, Description: "Show the manga server address"},
			handle: s.serverAddress,
		},
		{
			spec: kit.CommandSpec{
				Name:        RandomManga,
				Description: "Pick a random series",
				Options:     []kit.OptionSpec{{Name: "library", Description: "Library to pick from (default Manga)", Type: kit.OptString}},
			},
			handle: s.randomManga,
		},
		{
			spec: kit.CommandSpec{
				Name:        NotifyMe,
				Description: "Get a direct message when a series updates",
				Options:     []kit.OptionSpec{{Name: "series", Description: "Series name or id", Type: kit.OptString, Required: true}},
				Ephemeral:   true,
			},
			handle: s.notifyMe,
		},
		{
			spec: kit.CommandSpec{
				Name:        RemoveNotification,
				Description: "Stop notifications for a series, or all of them",
				Options:     []kit.OptionSpec{{Name: "series", Description: "Series name or id, or \"all\"", Type: kit.OptString, Required: true}},
				Ephemeral:   true,
			},
			handle: s.removeNotification,
		},
		{
			spec:   kit.CommandSpec{Name: ListNotifications, Description: "List your series notifications", Ephemeral: true},
			handle: s.listNotifications,
		},
		{
			spec: kit.CommandSpec{
				Name:        NotificationToggle,
				Description: "Pause or resume your notifications",
				Options:     []kit.OptionSpec{{Name: "enabled", Description: "Receive notifications", Type: kit.OptBool, Required: true}},
				Ephemeral:   true,
			},
			handle: s.notificationToggle,
		},
		{
			spec: kit.CommandSpec{
				Name:        AddManga,
				Description: "Request a series to be added",
				Options: []kit.OptionSpec{
					{Name: "title", Description: "Series title", Type: kit.OptString, Required: true},
					{Name: "link", Description: "Where to find it", Type: kit.OptString},
				},
				Ephemeral: true,
			},
			handle: s.addManga,
		},
		{
			spec:   kit.CommandSpec{Name: BotInfo, Description: "Show bot status"},
			handle: s.botInfo,
		},
	}
	out := make(map[string]route, len(routes))
	for _, r := range routes {
		out[r.spec.Name] = r
	}
	return out
}
