package email

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// base64LineLength is the maximum encoded line length allowed for a base64
// transfer-encoded MIME part (RFC 2045).
const base64LineLength = 76

// Build serializes a message into a multipart/mixed MIME document and
// base64url-encodes it, which is the form the Gmail send endpoint expects in
// its raw field: URL-safe alphabet, no padding.
func Build(msg Message) string {
	return base64.RawURLEncoding.EncodeToString([]byte(BuildMIME(msg)))
}

// BuildMIME serializes a message into a multipart/mixed MIME document with
// CRLF line endings. The body part is emitted 7bit; attachments are emitted
// base64 with lines wrapped at 76 characters.
func BuildMIME(msg Message) string {
	boundary := newBoundary()

	contentType := `text/plain; charset="UTF-8"`
	if msg.HTML {
		contentType = `text/html; charset="UTF-8"`
	}

	lines := []string{
		fmt.Sprintf("To: %s", sanitizeHeader(msg.To)),
		fmt.Sprintf("Subject: %s", sanitizeHeader(msg.Subject)),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", boundary),
		"",
		fmt.Sprintf("--%s", boundary),
		fmt.Sprintf("Content-Type: %s", contentType),
		"Content-Transfer-Encoding: 7bit",
		"",
		msg.Body,
	}

	for _, att := range msg.Attachments {
		encoded := wrapBase64(base64.StdEncoding.EncodeToString(att.Data))
		filename := sanitizeHeader(att.Filename)
		lines = append(lines,
			"",
			fmt.Sprintf("--%s", boundary),
			fmt.Sprintf("Content-Type: %s; name=%q", att.MIMEType, filename),
			fmt.Sprintf("Content-Disposition: attachment; filename=%q", filename),
			"Content-Transfer-Encoding: base64",
			"",
			encoded,
		)
	}

	lines = append(lines, "", fmt.Sprintf("--%s--", boundary))
	return strings.Join(lines, "\r\n")
}

var newBoundary = func() string {
	return fmt.Sprintf("jobmail-%d", time.Now().UnixNano())
}

func wrapBase64(encoded string) string {
	if len(encoded) <= base64LineLength {
		return encoded
	}
	var b strings.Builder
	for len(encoded) > base64LineLength {
		b.WriteString(encoded[:base64LineLength])
		b.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	b.WriteString(encoded)
	return b.String()
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
