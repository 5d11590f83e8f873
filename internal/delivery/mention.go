package delivery

import (
	"strings"

	"github.com/bwmarrin/snowflake"

	"gameclaim/internal/model"
)

// MentionPrefix renders ping targets as mention tokens followed by a space.
// The everyone sentinel, or a role id equal to the guild id, becomes
// @everyone. Malformed ids are dropped. No targets yields "".
func MentionPrefix(guildID string, targets []string) string {
	var mentions []string
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		var tok string
		switch {
		case t == model.PingEveryone || (t != "" && t == guildID):
			tok = "@everyone"
		default:
			id, err := snowflake.ParseString(t)
			if err != nil || id <= 0 {
				continue
			}
			tok = "<@&" + id.String() + ">"
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		mentions = append(mentions, tok)
	}
	if len(mentions) == 0 {
		return ""
	}
	return strings.Join(mentions, " ") + " "
}

// UserMention returns a mention token for a user id.
func UserMention(userID string) string {
	return "<@" + userID + ">"
}
