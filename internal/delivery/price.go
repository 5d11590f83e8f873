package delivery

import (
	"fmt"
	"strings"

	"gameclaim/internal/model"
	"gameclaim/internal/pricing"
)

const maxDealLines = 5

// FormatPrice renders the price overview of a game in the given currency.
func FormatPrice(gd *model.GameDeals, m pricing.Money) Message {
	title := gd.Title
	if title == "" {
		title = "Unknown Game"
	}
	e := &Embed{
		Title:       "💰 " + title,
		Description: "Price information from CheapShark",
		Color:       ColorPrice,
		ImageURL:    gd.Thumb,
		Footer:      "Powered by CheapShark API",
	}
	if m.Code != "USD" {
		e.Footer += " • Converted to " + m.Code
	}

	low := "N/A"
	if gd.HasAllTimeLow {
		low = fmt.Sprintf("%s (%s)", m.Format(gd.AllTimeLow), m.Code)
	}
	e.Fields = append(e.Fields, Field{Name: "🏷️ Lowest Price Ever", Value: low, Inline: true})

	if len(gd.Deals) > 0 {
		var b strings.Builder
		for i, d := range gd.Deals {
			if i == maxDealLines {
				break
			}
			name := pricing.StoreName(d.StoreID)
			if d.SavingsPercent.IsPositive() {
				fmt.Fprintf(&b, "**%s**: ~~%s~~ ➜ **%s** (%s%% off)\n",
					name, m.Format(d.RetailPrice), m.Format(d.Price), d.SavingsPercent.StringFixed(0))
			} else {
				fmt.Fprintf(&b, "**%s**: %s\n", name, m.Format(d.Price))
			}
		}
		e.Fields = append(e.Fields, Field{Name: "🛒 Current Deals", Value: b.String()})
	}

	msg := Message{Embed: e}
	if len(gd.Deals) > 0 && gd.Deals[0].DealID != "" {
		msg.Buttons = []Button{{Label: "View Best Deal", URL: pricing.RedirectURL(gd.Deals[0].DealID)}}
	}
	return msg
}

// FormatTrackAlert renders the one-shot alert of a fired tracking subscription.
func FormatTrackAlert(sub model.TrackingSubscription, gd *model.GameDeals, d model.Deal) Message {
	name := sub.GameName
	if name == "" {
		name = gd.Title
	}
	e := &Embed{
		Title:        "🔔 " + name,
		Description:  fmt.Sprintf("Your %s alert fired on %s.", sub.Mode.Label(), pricing.StoreName(d.StoreID)),
		Color:        ColorAlert,
		ThumbnailURL: gd.Thumb,
		Fields: []Field{
			{Name: "Price", Value: pricing.USD.Format(d.Price), Inline: true},
			{Name: "Retail", Value: pricing.USD.Format(d.RetailPrice), Inline: true},
			{Name: "Savings", Value: d.SavingsPercent.StringFixed(0) + "%", Inline: true},
		},
		Footer: "GameClaim • Price Tracker",
	}
	if gd.HasAllTimeLow {
		e.Fields = append(e.Fields, Field{Name: "All-Time Low", Value: pricing.USD.Format(gd.AllTimeLow), Inline: true})
	}

	msg := Message{
		Content: fmt.Sprintf("%s price alert for **%s**!", UserMention(sub.UserID), name),
		Embed:   e,
	}
	if d.DealID != "" {
		msg.Buttons = []Button{{Label: "Open Deal", URL: pricing.RedirectURL(d.DealID)}}
	}
	return msg
}
