package service

import (
	"fmt"
	"strings"

	"goim-confession/apps/confession-service/model"
)

// channelPostText 频道帖子正文
func channelPostText(c *model.Confession, number int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confession #%d\n\n%s", number, c.Text)
	if len(c.Hashtags) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(c.Hashtags, " "))
	}
	fmt.Fprintf(&b, "\n\n💬 %d", c.CommentTotal)
	return b.String()
}

func pendingNoticeText(c *model.Confession) string {
	return fmt.Sprintf("New confession %s awaiting review:\n\n%s", c.ID, c.Text)
}

func approvedNoticeText(number int64) string {
	return fmt.Sprintf("Your confession was approved and published as #%d.", number)
}

func rejectedNoticeText(reason string) string {
	if reason == "" {
		return "Your confession was not approved."
	}
	return fmt.Sprintf("Your confession was not approved: %s", reason)
}

func commentNoticeText(number int64, comment *model.Comment) string {
	return fmt.Sprintf("New comment on confession #%d:\n\n%s", number, comment.Text)
}
