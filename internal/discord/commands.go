package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"gameclaim/internal/delivery"
	"gameclaim/internal/fuzzy"
	"gameclaim/internal/model"
	"gameclaim/internal/pricing"
	"gameclaim/internal/session"
	"gameclaim/internal/storage"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	admin := int64(discordgo.PermissionManageServer)
	noDM := false

	currencyChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(pricing.Currencies))
	for _, c := range pricing.Currencies {
		currencyChoices = append(currencyChoices, &discordgo.ApplicationCommandOptionChoice{Name: c, Value: c})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "setchannel",
			Description:              "Set the alert channel for free game notifications",
			DefaultMemberPermissions: &admin,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "The channel to send alerts to",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
				},
			},
		},
		{
			Name:                     "updateping",
			Description:              "Set who to ping for new game alerts",
			DefaultMemberPermissions: &admin,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to ping (omit to clear)"},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "everyone", Description: "Ping @everyone"},
			},
		},
		{
			Name:         "currentchannel",
			Description:  "Show the current alert channel and ping roles",
			DMPermission: &noDM,
		},
		{
			Name:                     "removechannel",
			Description:              "Remove the alert channel",
			DefaultMemberPermissions: &admin,
			DMPermission:             &noDM,
		},
		{
			Name:        "free",
			Description: "Get current free games",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "platform",
					Description: "Which store to check",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Epic Games", Value: string(model.SourceEpic)},
						{Name: "Steam", Value: string(model.SourceSteam)},
						{Name: "All", Value: "all"},
					},
				},
			},
		},
		{
			Name:        "price",
			Description: "Check the current deals for a game",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "game", Description: "Game name", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "currency", Description: "Display currency", Choices: currencyChoices},
			},
		},
		{
			Name:        "track",
			Description: "Get pinged when a game goes on sale",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "game", Description: "Game name", Required: true},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "When to notify",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "All-time low", Value: string(model.TrackAllTimeLow)},
						{Name: "Any sale", Value: string(model.TrackSale)},
					},
				},
			},
		},
		{
			Name:        "untrack",
			Description: "Stop tracking a game",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "id", Description: "Tracking id from /trackings"},
			},
		},
		{
			Name:        "trackings",
			Description: "List your price trackings",
		},
		{
			Name:        "announce",
			Description: "Broadcast an announcement (Owner only)",
		},
		{
			Name:        "ping",
			Description: "Check bot latency",
		},
		{
			Name:        "help",
			Description: "Show the list of commands",
		},
	}
}

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func commandOptions(i *discordgo.Interaction) optionMap {
	out := make(optionMap)
	for _, o := range i.ApplicationCommandData().Options {
		out[o.Name] = o
	}
	return out
}

// str returns a string, channel or role option value.
func (m optionMap) str(name string) string {
	o, ok := m[name]
	if !ok || o.Value == nil {
		return ""
	}
	if s, ok := o.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(o.Value)
}

func (m optionMap) boolean(name string) bool {
	o, ok := m[name]
	return ok && o.BoolValue()
}

func (m optionMap) integer(name string) (int64, bool) {
	o, ok := m[name]
	if !ok {
		return 0, false
	}
	return o.IntValue(), true
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	b.log.Debug("command", "command", data.Name, "guild_id", i.GuildID, "user_id", userID(i))

	switch data.Name {
	case "setchannel":
		b.handleSetChannel(ctx, i)
	case "updateping":
		b.handleUpdatePing(ctx, i)
	case "currentchannel":
		b.handleCurrentChannel(ctx, i)
	case "removechannel":
		b.handleRemoveChannel(ctx, i)
	case "free":
		b.handleFree(ctx, i)
	case "price":
		b.handlePrice(ctx, i)
	case "track":
		b.handleTrack(ctx, i)
	case "untrack":
		b.handleUntrack(ctx, i)
	case "trackings":
		b.handleTrackings(ctx, i)
	case "announce":
		b.handleAnnounce(i)
	case "ping":
		b.reply(i, fmt.Sprintf("🏓 Pong! Bot latency: %dms", b.latency().Milliseconds()))
	case "help":
		b.respond(i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{toEmbed(helpEmbed())}})
	default:
		b.log.Warn("unknown command", "command", data.Name)
	}
}

func (b *Bot) requireAdmin(i *discordgo.Interaction) bool {
	if i.GuildID == "" {
		b.replyPrivate(i, "❌ This command only works in a server.")
		return false
	}
	if !isAdmin(i) {
		b.replyPrivate(i, "❌ You need the Manage Server permission to do that.")
		return false
	}
	return true
}

func (b *Bot) handleSetChannel(ctx context.Context, i *discordgo.Interaction) {
	if !b.requireAdmin(i) {
		return
	}
	opts := commandOptions(i)
	ch, err := b.sink.Parse(delivery.Target{Platform: model.PlatformDiscord, GuildID: i.GuildID, ChannelID: opts.str("channel")})
	if err != nil {
		b.replyPrivate(i, "❌ That is not a valid channel.")
		return
	}

	dest := &model.Destination{GuildID: i.GuildID, ChannelID: ch.ID, Platform: model.PlatformDiscord}
	if cur, err := b.deps.Registry.GetDestination(ctx, i.GuildID); err == nil {
		dest.PingTargets = cur.PingTargets
	}
	if err := b.deps.Registry.UpsertDestination(ctx, dest); err != nil {
		b.log.Error("save destination", "guild_id", i.GuildID, "error", err)
		b.reply(i, "⚠️ Failed to save channel settings. Please try again.")
		return
	}

	if _, err := b.sink.Resolve(ctx, ch); errors.Is(err, delivery.ErrForbidden) {
		b.reply(i, fmt.Sprintf("⚠️ Alerts channel set to <#%s> but I don't have send permissions there!", ch.ID))
		return
	}
	b.reply(i, fmt.Sprintf("✅ Game alerts will now be sent to <#%s>", ch.ID))
}

func (b *Bot) handleUpdatePing(ctx context.Context, i *discordgo.Interaction) {
	if !b.requireAdmin(i) {
		return
	}
	dest, err := b.deps.Registry.GetDestination(ctx, i.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(i, "⚠️ No alert channel set. Use `/setchannel` first.")
		return
	}
	if err != nil {
		b.log.Error("get destination", "guild_id", i.GuildID, "error", err)
		b.reply(i, "⚠️ Failed to load settings. Please try again.")
		return
	}

	opts := commandOptions(i)
	var targets []string
	if opts.boolean("everyone") {
		targets = append(targets, model.PingEveryone)
	}
	if role := opts.str("role"); role != "" {
		targets = append(targets, role)
	}
	dest.PingTargets = targets

	if err := b.deps.Registry.UpsertDestination(ctx, dest); err != nil {
		b.log.Error("save destination", "guild_id", i.GuildID, "error", err)
		b.reply(i, "⚠️ Failed to save ping settings. Please try again.")
		return
	}
	if len(targets) == 0 {
		b.reply(i, "✅ Ping role removed. No one will be pinged for new games.")
		return
	}
	b.reply(i, fmt.Sprintf("✅ Alerts will now mention %s.", strings.TrimSpace(delivery.MentionPrefix(i.GuildID, targets))))
}

func (b *Bot) handleCurrentChannel(ctx context.Context, i *discordgo.Interaction) {
	dest, err := b.deps.Registry.GetDestination(ctx, i.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(i, "⚠️ No alert channel set. Use `/setchannel #channel`.")
		return
	}
	if err != nil {
		b.log.Error("get destination", "guild_id", i.GuildID, "error", err)
		b.reply(i, "⚠️ Failed to load settings. Please try again.")
		return
	}

	ch, err := b.sink.Parse(delivery.Target{Platform: dest.Platform, GuildID: dest.GuildID, ChannelID: dest.ChannelID})
	if err == nil {
		_, err = b.sink.Resolve(ctx, ch)
	}
	if errors.Is(err, delivery.ErrChannelNotFound) || errors.Is(err, delivery.ErrInvalidChannel) {
		b.reply(i, "❌ The saved channel does not exist anymore.")
		return
	}

	ping := "No ping role set"
	if mention := strings.TrimSpace(delivery.MentionPrefix(dest.GuildID, dest.PingTargets)); mention != "" {
		ping = "Ping: " + mention
	}
	b.reply(i, fmt.Sprintf("📢 Current alert channel is: <#%s>\n%s", dest.ChannelID, ping))
}

func (b *Bot) handleRemoveChannel(ctx context.Context, i *discordgo.Interaction) {
	if !b.requireAdmin(i) {
		return
	}
	if err := b.deps.Registry.DeleteDestination(ctx, i.GuildID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("delete destination", "guild_id", i.GuildID, "error", err)
		b.reply(i, "⚠️ Failed to remove the alert channel. Please try again.")
		return
	}
	b.reply(i, "✅ Alert channel removed.")
}

func (b *Bot) handleFree(ctx context.Context, i *discordgo.Interaction) {
	platform := commandOptions(i).str("platform")
	if platform == "" {
		platform = "all"
	}
	if !b.deferReply(i) {
		return
	}

	var offers []model.Offer
	for _, src := range b.deps.Sources {
		if platform != "all" && src.Name() != platform {
			continue
		}
		got, err := src.Fetch(ctx)
		if err != nil {
			b.log.Error("fetch offers", "source", src.Name(), "error", err)
			continue
		}
		offers = append(offers, got...)
	}

	if len(offers) == 0 {
		b.editDeferred(i, delivery.Message{Content: "❌ No free games found at the moment."})
		return
	}
	now := b.clock()
	b.editDeferred(i, delivery.FormatOffer(offers[0], now))
	for _, o := range offers[1:] {
		b.followup(i, delivery.FormatOffer(o, now), false)
	}
}

func (b *Bot) handlePrice(ctx context.Context, i *discordgo.Interaction) {
	opts := commandOptions(i)
	query := opts.str("game")
	currency := opts.str("currency")
	if !b.deferReply(i) {
		return
	}

	games, err := b.deps.Catalog.SearchGames(ctx, query, session.SearchLimit)
	if err != nil {
		b.log.Error("search games", "query", query, "error", err)
		b.editDeferred(i, delivery.Message{Content: "⚠️ The price service is unavailable right now. Please try again later."})
		return
	}
	if len(games) == 0 {
		b.editDeferred(i, delivery.Message{Content: fmt.Sprintf("❌ Could not find any game matching **%s**.", query)})
		return
	}
	best := fuzzy.Rank(query, games, func(g model.CandidateGame) string { return g.Title })[0].Item

	msg, ok := b.priceMessage(ctx, best.GameID, currency)
	if !ok {
		b.editDeferred(i, delivery.Message{Content: "⚠️ Failed to load deals for that game."})
		return
	}
	b.editDeferred(i, msg, currencySelect(best.GameID, currency))
}

func (b *Bot) handlePriceCurrency(ctx context.Context, i *discordgo.Interaction, gameID, currency string) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
	if err != nil {
		b.log.Error("defer price update", "error", err)
		return
	}
	msg, ok := b.priceMessage(ctx, gameID, currency)
	if !ok {
		return
	}
	b.editDeferred(i, msg, currencySelect(gameID, currency))
}

func (b *Bot) priceMessage(ctx context.Context, gameID, currency string) (delivery.Message, bool) {
	gd, err := b.deps.Catalog.FetchGameDeals(ctx, gameID)
	if err != nil {
		b.log.Error("fetch game deals", "game_id", gameID, "error", err)
		return delivery.Message{}, false
	}
	money := pricing.USD
	if currency != "" && b.deps.Currencies != nil {
		money = b.deps.Currencies.Money(ctx, currency)
	}
	return delivery.FormatPrice(gd, money), true
}

func currencySelect(gameID, current string) discordgo.MessageComponent {
	opts := make([]discordgo.SelectMenuOption, 0, len(pricing.Currencies))
	for _, c := range pricing.Currencies {
		opts = append(opts, discordgo.SelectMenuOption{
			Label:       c,
			Value:       c,
			Description: "Show prices in " + c,
			Default:     c == current,
		})
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			CustomID:    CustomID{Kind: kindPrice, Key: gameID}.String(),
			Placeholder: "Change Currency",
			Options:     opts,
		},
	}}
}

func (b *Bot) handleUntrack(ctx context.Context, i *discordgo.Interaction) {
	id, ok := commandOptions(i).integer("id")
	if !ok {
		b.handleTrackings(ctx, i)
		return
	}
	err := b.deps.Trackings.Cancel(ctx, userID(i), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.replyPrivate(i, fmt.Sprintf("❌ Tracking #%d not found.", id))
	case err != nil:
		b.log.Error("cancel tracking", "tracking_id", id, "error", err)
		b.replyPrivate(i, "⚠️ Failed to remove the tracking. Please try again.")
	default:
		b.replyPrivate(i, fmt.Sprintf("✅ Stopped tracking #%d.", id))
	}
}

func (b *Bot) handleTrackings(ctx context.Context, i *discordgo.Interaction) {
	subs, err := b.deps.Trackings.List(ctx, userID(i))
	if err != nil {
		b.log.Error("list trackings", "user_id", userID(i), "error", err)
		b.replyPrivate(i, "⚠️ Failed to load your trackings. Please try again.")
		return
	}
	b.replyPrivate(i, FormatTrackings(subs))
}

// FormatTrackings renders a user's subscriptions.
func FormatTrackings(subs []model.TrackingSubscription) string {
	if len(subs) == 0 {
		return "You are not tracking any games. Use `/track` to start."
	}
	var sb strings.Builder
	sb.WriteString("📋 **Your trackings:**\n")
	for _, s := range subs {
		fmt.Fprintf(&sb, "`#%d` **%s** (%s)\n", s.ID, s.GameName, s.Mode.Label())
	}
	sb.WriteString("\nUse `/untrack id:<id>` to stop one.")
	return sb.String()
}

func helpEmbed() *delivery.Embed {
	return &delivery.Embed{
		Title:       "📖 GameClaim Commands",
		Description: "Free game alerts from Epic and Steam, plus price tracking.",
		Color:       delivery.ColorInfo,
		Fields: []delivery.Field{
			{Name: "`/setchannel #channel`", Value: "Set the channel for free game alerts (admin)."},
			{Name: "`/updateping [role] [everyone]`", Value: "Choose who gets pinged; omit both to clear (admin)."},
			{Name: "`/currentchannel`", Value: "Show the current alert channel and ping roles."},
			{Name: "`/removechannel`", Value: "Stop alerts in this server (admin)."},
			{Name: "`/free [platform]`", Value: "Show the current free games."},
			{Name: "`/price game [currency]`", Value: "Show the best deals and the all-time low."},
			{Name: "`/track game [mode]`", Value: "Get pinged on a sale or a new all-time low."},
			{Name: "`/trackings` · `/untrack [id]`", Value: "List or stop your trackings."},
			{Name: "`/ping`", Value: "Bot latency check."},
		},
		Footer: "GameClaim • Free Game Tracker",
	}
}
