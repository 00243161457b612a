package conversion

import (
	"fmt"
	"strings"
	"time"

	"github.com/esannihith/Image-meta-attribute-ai/internal/session"
)

const transcriptHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<title>Image analysis transcript</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; }
.message { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 0.5rem; }
.user { background: #e8f0fe; }
.assistant { background: #f5f5f5; }
.meta { color: #666; font-size: 0.8rem; margin-bottom: 0.25rem; }
pre { overflow-x: auto; padding: 0.5rem; }
</style>
</head>
<body>
`

const transcriptFooter = `</body>
</html>
`

// Transcript renders a conversation history as a standalone HTML document.
// Assistant messages are rendered as markdown and sanitized; user messages
// are escaped verbatim.
func Transcript(history []session.Message, conv *Converter) string {
	if conv == nil {
		conv = DefaultConverter()
	}

	var b strings.Builder
	b.WriteString(transcriptHeader)

	for _, msg := range history {
		role := string(msg.Sender)
		var body string
		if msg.Sender == session.SenderAssistant {
			body = conv.ConvertToSafeHTML(msg.Content)
		} else {
			body = "<p>" + EscapeHTML(msg.Content) + "</p>"
		}

		fmt.Fprintf(&b, "<div class=%q>\n<div class=\"meta\">%s · %s</div>\n%s</div>\n",
			"message "+role, EscapeHTML(role), msg.Timestamp.Format(time.RFC3339), body)
	}

	b.WriteString(transcriptFooter)
	return b.String()
}
