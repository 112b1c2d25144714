// Package device turns a User-Agent header into a short device description
// for POS audit events.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Describe summarizes userAgent as "Browser version (OS)", with a "mobile"
// or "bot" marker when applicable. An empty userAgent yields "".
func Describe(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()

	var b strings.Builder
	b.WriteString(name)
	if version != "" {
		b.WriteString(" " + version)
	}
	if os := ua.OS(); os != "" {
		b.WriteString(" (" + os + ")")
	}
	switch {
	case ua.Bot():
		b.WriteString(" bot")
	case ua.Mobile():
		b.WriteString(" mobile")
	}
	return strings.TrimSpace(b.String())
}
