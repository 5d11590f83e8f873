package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
	"gameclaim/internal/session"
)

const fieldQuery = "query"

// view is one rendering of a message.
type view struct {
	content    string
	embed      *discordgo.MessageEmbed
	components []discordgo.MessageComponent
}

func (v view) responseData() *discordgo.InteractionResponseData {
	d := &discordgo.InteractionResponseData{
		Content:         v.content,
		Components:      v.components,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if d.Components == nil {
		d.Components = []discordgo.MessageComponent{}
	}
	d.Embeds = []*discordgo.MessageEmbed{}
	if v.embed != nil {
		d.Embeds = []*discordgo.MessageEmbed{v.embed}
	}
	return d
}

func (v view) webhookEdit() *discordgo.WebhookEdit {
	d := v.responseData()
	return &discordgo.WebhookEdit{Content: &d.Content, Embeds: &d.Embeds, Components: &d.Components}
}

func (b *Bot) handleTrack(ctx context.Context, i *discordgo.Interaction) {
	opts := commandOptions(i)
	user := userID(i)
	req := session.StartRequest{
		UserID:     user,
		ChannelID:  i.ChannelID,
		Query:      opts.str("game"),
		Mode:       model.TrackMode(opts.str("mode")),
		Privileged: b.deps.IsOwner(user),
	}
	if !b.deferReply(i) {
		return
	}

	s, err := b.deps.Sessions.Start(ctx, req)
	if errors.Is(err, session.ErrNotFound) {
		b.editDeferred(i, delivery.Message{Content: fmt.Sprintf("❌ No games found for **%s**.", req.Query)})
		return
	}
	if err != nil {
		b.log.Error("start tracking session", "user_id", user, "query", req.Query, "error", err)
		b.editDeferred(i, delivery.Message{Content: "⚠️ The game search is unavailable right now. Please try again later."})
		return
	}

	m, err := b.api.InteractionResponseEdit(i, renderSession(s).webhookEdit())
	if err != nil {
		b.log.Error("render tracking session", "session_id", s.ID, "error", err)
		return
	}
	b.deps.Sessions.SetView(s.ID, session.ViewRef{ChannelID: m.ChannelID, MessageID: m.ID})
}

func (b *Bot) handleTrackComponent(ctx context.Context, i *discordgo.Interaction, id CustomID) {
	sm := b.deps.Sessions
	user := userID(i)

	var (
		s   session.Session
		err error
	)
	switch id.Action {
	case actionSelect:
		idx, convErr := strconv.Atoi(id.Arg)
		if convErr != nil {
			return
		}
		s, err = sm.Select(id.Key, user, idx)
	case actionPage:
		delta, convErr := strconv.Atoi(id.Arg)
		if convErr != nil {
			return
		}
		s, err = sm.Page(id.Key, user, delta)
	case actionBack:
		s, err = sm.Back(id.Key, user)
	case actionMode:
		s, err = sm.SetMode(id.Key, user, model.TrackMode(id.Arg))
	case actionCancel:
		s, err = sm.Cancel(id.Key, user)
	case actionResearch:
		b.openResearchModal(i, id.Key, user)
		return
	case actionConfirm:
		b.confirmTracking(ctx, i, id.Key, user)
		return
	default:
		return
	}

	if err != nil {
		b.rejectTrackAction(i, id.Key, err)
		return
	}
	b.update(i, renderSession(s).responseData())
}

func (b *Bot) rejectTrackAction(i *discordgo.Interaction, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrExpired):
		b.update(i, expiredView().responseData())
	case errors.Is(err, session.ErrNotInitiator):
		b.replyPrivate(i, "❌ Only the user who started this search can use it.")
	case errors.Is(err, session.ErrInvalidState):
		b.replyPrivate(i, "⚠️ That action is not available right now.")
	default:
		b.log.Error("tracking session action", "session_id", sessionID, "error", err)
		b.replyPrivate(i, "⚠️ Something went wrong. Please try again.")
	}
}

func (b *Bot) openResearchModal(i *discordgo.Interaction, sessionID, user string) {
	s, err := b.deps.Sessions.Get(sessionID)
	if err != nil {
		b.rejectTrackAction(i, sessionID, err)
		return
	}
	if s.UserID != user {
		b.rejectTrackAction(i, sessionID, session.ErrNotInitiator)
		return
	}
	err = b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: trackID(sessionID, actionResearch, ""),
			Title:    "New search",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  fieldQuery,
						Label:     "Game name",
						Style:     discordgo.TextInputShort,
						Value:     s.Query,
						Required:  true,
						MinLength: 1,
						MaxLength: 100,
					},
				}},
			},
		},
	})
	if err != nil {
		b.log.Error("open search modal", "session_id", sessionID, "error", err)
	}
}

func (b *Bot) handleTrackResearch(ctx context.Context, i *discordgo.Interaction, sessionID, query string) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
	if err != nil {
		b.log.Error("defer search update", "session_id", sessionID, "error", err)
		return
	}

	s, err := b.deps.Sessions.Research(ctx, sessionID, userID(i), query)
	switch {
	case errors.Is(err, session.ErrNotFound):
		b.followup(i, delivery.Message{Content: fmt.Sprintf("❌ No games found for **%s**.", query)}, true)
		return
	case errors.Is(err, session.ErrExpired):
		if _, err := b.api.InteractionResponseEdit(i, expiredView().webhookEdit()); err != nil {
			b.log.Error("mark search expired", "session_id", sessionID, "error", err)
		}
		return
	case errors.Is(err, session.ErrNotInitiator):
		b.followup(i, delivery.Message{Content: "❌ Only the user who started this search can use it."}, true)
		return
	case err != nil:
		b.log.Error("research tracking session", "session_id", sessionID, "error", err)
		b.followup(i, delivery.Message{Content: "⚠️ The game search is unavailable right now. Please try again later."}, true)
		return
	}
	if _, err := b.api.InteractionResponseEdit(i, renderSession(s).webhookEdit()); err != nil {
		b.log.Error("render tracking session", "session_id", sessionID, "error", err)
	}
}

func (b *Bot) confirmTracking(ctx context.Context, i *discordgo.Interaction, sessionID, user string) {
	s, sub, replaced, err := b.deps.Sessions.Confirm(ctx, sessionID, user)
	if err != nil {
		b.rejectTrackAction(i, sessionID, err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Now tracking **%s** (%s). I'll ping %s in <#%s> when it triggers.",
		sub.GameName, sub.Mode.Label(), delivery.UserMention(s.UserID), sub.ChannelID)
	for _, old := range replaced {
		fmt.Fprintf(&sb, "\nReplaced your previous tracking of **%s**.", old.GameName)
	}
	b.update(i, view{content: sb.String()}.responseData())
}

// expireView marks the message of a timed out session inert.
func (b *Bot) expireView(s session.Session) {
	if s.View.MessageID == "" {
		return
	}
	content := "⌛ This search timed out. Run `/track` again."
	components := []discordgo.MessageComponent{}
	embeds := []*discordgo.MessageEmbed{}
	_, err := b.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         s.View.MessageID,
		Channel:    s.View.ChannelID,
		Content:    &content,
		Components: &components,
		Embeds:     &embeds,
	})
	if err != nil {
		b.log.Warn("disable expired search", "session_id", s.ID, "error", err)
	}
}

func expiredView() view {
	return view{content: "⌛ This search has expired. Run `/track` again."}
}

func renderSession(s session.Session) view {
	switch s.State {
	case session.Selecting:
		return renderSelecting(s)
	case session.Confirming:
		return renderConfirming(s)
	case session.Cancelled:
		return view{content: "Search cancelled."}
	}
	return expiredView()
}

func otherMode(m model.TrackMode) model.TrackMode {
	if m == model.TrackAllTimeLow {
		return model.TrackSale
	}
	return model.TrackAllTimeLow
}

func renderSelecting(s session.Session) view {
	var sb strings.Builder
	var picks []discordgo.MessageComponent
	start := s.Page * session.PageSize
	for n, m := range s.PageItems() {
		idx := start + n
		fmt.Fprintf(&sb, "**%d.** %s\n", idx+1, m.Item.Title)
		picks = append(picks, discordgo.Button{
			Label:    strconv.Itoa(idx + 1),
			Style:    discordgo.SecondaryButton,
			CustomID: trackID(s.ID, actionSelect, strconv.Itoa(idx)),
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🔎 Results for \"%s\"", s.Query),
		Description: sb.String(),
		Color:       delivery.ColorInfo,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d/%d • Mode: %s", s.Page+1, max(s.Pages(), 1), s.Mode.Label()),
		},
	}

	nav := []discordgo.MessageComponent{
		discordgo.Button{Label: "◀ Prev", Style: discordgo.PrimaryButton, CustomID: trackID(s.ID, actionPage, "-1"), Disabled: s.Page == 0},
		discordgo.Button{Label: "Next ▶", Style: discordgo.PrimaryButton, CustomID: trackID(s.ID, actionPage, "1"), Disabled: s.Page >= s.Pages()-1},
		discordgo.Button{Label: "🔁 New search", Style: discordgo.SecondaryButton, CustomID: trackID(s.ID, actionResearch, "")},
		discordgo.Button{Label: "Mode: " + otherMode(s.Mode).Label(), Style: discordgo.SecondaryButton, CustomID: trackID(s.ID, actionMode, string(otherMode(s.Mode)))},
		discordgo.Button{Label: "Cancel", Style: discordgo.DangerButton, CustomID: trackID(s.ID, actionCancel, "")},
	}

	return view{
		content: "Pick the game to track:",
		embed:   embed,
		components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: picks},
			discordgo.ActionsRow{Components: nav},
		},
	}
}

func renderConfirming(s session.Session) view {
	game, _ := s.Choice()
	embed := &discordgo.MessageEmbed{
		Title:       "🎯 " + game.Title,
		Description: fmt.Sprintf("Notify on: **%s**\nYou will be pinged once, then the tracking is removed.", s.Mode.Label()),
		Color:       delivery.ColorAlert,
	}
	if game.Thumb != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: game.Thumb}
	}
	if game.Cheapest.IsPositive() {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "💲 Cheapest now", Value: "$" + game.Cheapest.StringFixed(2), Inline: true}}
	}

	row := []discordgo.MessageComponent{
		discordgo.Button{Label: "✅ Confirm", Style: discordgo.SuccessButton, CustomID: trackID(s.ID, actionConfirm, "")},
		discordgo.Button{Label: "◀ Back", Style: discordgo.SecondaryButton, CustomID: trackID(s.ID, actionBack, ""), Disabled: len(s.Candidates) < 2},
		discordgo.Button{Label: "🔁 New search", Style: discordgo.SecondaryButton, CustomID: trackID(s.ID, actionResearch, "")},
		discordgo.Button{Label: "Mode: " + otherMode(s.Mode).Label(), Style: discordgo.SecondaryButton, CustomID: trackID(s.ID, actionMode, string(otherMode(s.Mode)))},
		discordgo.Button{Label: "Cancel", Style: discordgo.DangerButton, CustomID: trackID(s.ID, actionCancel, "")},
	}
	return view{
		content:    "Track this game?",
		embed:      embed,
		components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: row}},
	}
}

// modalValue returns the value of a text input in a submitted modal.
func modalValue(data discordgo.ModalSubmitInteractionData, field string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if in, ok := rc.(*discordgo.TextInput); ok && in.CustomID == field {
				return strings.TrimSpace(in.Value)
			}
		}
	}
	return ""
}
