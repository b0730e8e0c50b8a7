package action

import (
	"strings"

	"github.com/guildtools/autoresponder/pkg/transport"
)

// RenderTemplate substitutes the supported placeholders in a reply
// template with values from the triggering message. Unknown placeholders
// are left as written.
func RenderTemplate(template string, msg transport.Message) string {
	r := strings.NewReplacer(
		"{user}", "<@"+msg.AuthorID+">",
		"{user_name}", msg.AuthorName,
		"{channel}", "<#"+msg.TargetID()+">",
		"{channel_name}", msg.ChannelName,
		"{guild_name}", msg.GuildName,
	)
	return r.Replace(template)
}
