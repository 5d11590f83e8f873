package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"gameclaim/internal/delivery"
)

// announceTTL bounds how long a previewed announcement can be confirmed.
const announceTTL = 60 * time.Second

// broadcastTimeout outlives the per-interaction timeout.
const broadcastTimeout = 10 * time.Minute

const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldImage       = "image"
	fieldThumbnail   = "thumbnail"
	fieldFooter      = "footer"

	defaultFooter = "GameClaim Announcement"
)

type announcement struct {
	UserID string
	Msg    delivery.Message
}

func (b *Bot) handleAnnounce(i *discordgo.Interaction) {
	if !b.deps.IsOwner(userID(i)) {
		b.replyPrivate(i, "❌ Only the bot owner can send announcements.")
		return
	}

	input := func(id, label string, style discordgo.TextInputStyle, required bool, value string, maxLen int) discordgo.MessageComponent {
		return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{CustomID: id, Label: label, Style: style, Required: required, Value: value, MaxLength: maxLen},
		}}
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: kindAnnounce + ":new",
			Title:    "Create Announcement",
			Components: []discordgo.MessageComponent{
				input(fieldTitle, "Title", discordgo.TextInputShort, true, "", 256),
				input(fieldDescription, "Description", discordgo.TextInputParagraph, true, "", 4000),
				input(fieldImage, "Image URL (optional)", discordgo.TextInputShort, false, "", 512),
				input(fieldThumbnail, "Thumbnail URL (optional)", discordgo.TextInputShort, false, "", 512),
				input(fieldFooter, "Footer text", discordgo.TextInputShort, false, defaultFooter, 2048),
			},
		},
	})
	if err != nil {
		b.log.Error("open announce modal", "error", err)
	}
}

func (b *Bot) handleAnnounceSubmit(i *discordgo.Interaction, data discordgo.ModalSubmitInteractionData) {
	user := userID(i)
	if !b.deps.IsOwner(user) {
		b.replyPrivate(i, "❌ Only the bot owner can send announcements.")
		return
	}

	footer := modalValue(data, fieldFooter)
	if footer == "" {
		footer = defaultFooter
	}
	msg := delivery.Message{Embed: &delivery.Embed{
		Title:        modalValue(data, fieldTitle),
		Description:  modalValue(data, fieldDescription),
		Color:        delivery.ColorAnnounce,
		ImageURL:     modalValue(data, fieldImage),
		ThumbnailURL: modalValue(data, fieldThumbnail),
		Footer:       footer,
	}}

	token := uuid.NewString()
	b.announcements.Set(token, announcement{UserID: user, Msg: msg}, announceTTL)

	b.respond(i, &discordgo.InteractionResponseData{
		Content: "**Preview:** confirm to send this to every configured server.",
		Embeds:  []*discordgo.MessageEmbed{toEmbed(msg.Embed)},
		Flags:   discordgo.MessageFlagsEphemeral,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Confirm", Style: discordgo.SuccessButton, CustomID: CustomID{Kind: kindAnnounce, Key: token, Action: actionConfirm}.String()},
				discordgo.Button{Label: "Cancel", Style: discordgo.DangerButton, CustomID: CustomID{Kind: kindAnnounce, Key: token, Action: actionCancel}.String()},
			}},
		},
	})
}

func (b *Bot) handleAnnounceComponent(ctx context.Context, i *discordgo.Interaction, id CustomID) {
	a, ok := b.announcements.Get(id.Key)
	if !ok {
		b.update(i, view{content: "⌛ This announcement preview has expired."}.responseData())
		return
	}
	if a.UserID != userID(i) {
		b.replyPrivate(i, "❌ Only the author of this announcement can do that.")
		return
	}

	switch id.Action {
	case actionCancel:
		b.announcements.Delete(id.Key)
		b.update(i, view{content: "❌ Cancelled."}.responseData())
	case actionConfirm:
		if _, ok := b.announcements.Delete(id.Key); !ok {
			return
		}
		b.update(i, view{content: "⏳ Broadcasting..."}.responseData())
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
		defer cancel()
		sent, total := b.deps.Broadcaster.Broadcast(bctx, a.Msg)
		b.log.Info("announcement broadcast", "user_id", a.UserID, "sent", sent, "total", total)
		b.followup(i, delivery.Message{Content: fmt.Sprintf("✅ Broadcast complete! Sent to %d/%d servers.", sent, total)}, true)
	}
}
