package mail

import (
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// placeholderCodes maps the friendly tokens users type to strftime
// specifiers. Longer tokens come first so DDDD wins over DD.
var placeholderCodes = strings.NewReplacer(
	"DATETIME", "%A, %d %B %Y %H:%M",
	"DDDD", "%A",
	"YYYY", "%Y",
	"YY", "%y",
	"MMMM", "%B",
	"MM", "%m",
	"DD", "%d",
	"HH", "%H",
	"mm", "%M",
)

// Render expands {{...}} placeholders with now, e.g. "Report {{DD/MM/YYYY}}".
// Text outside the braces is untouched.
func Render(text string, now time.Time) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		inner := strings.TrimSpace(placeholder.FindStringSubmatch(m)[1])
		return strftime.Format(placeholderCodes.Replace(inner), now)
	})
}

// RenderMessage renders subject and body at send time.
func RenderMessage(msg Message, now time.Time) Message {
	msg.Subject = Render(msg.Subject, now)
	msg.Body = Render(msg.Body, now)
	return msg
}
