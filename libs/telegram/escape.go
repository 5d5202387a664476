package telegram

import "html"

// EscapeHTML sanitizes user-supplied text before it is interpolated into a
// message sent with HTML parse mode. The Bot API rejects messages containing
// unbalanced markup, so one angle bracket in a pet name would otherwise kill
// the whole notification.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}
