package dispatch

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Confirmation is the parsed echo of a sent message, used to check that the
// body and attachments survived the round trip.
type Confirmation struct {
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []AttachmentInfo
}

type AttachmentInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// ParseConfirmation walks the MIME parts of a raw message.
func ParseConfirmation(raw []byte) (Confirmation, error) {
	var confirmation Confirmation

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return confirmation, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		confirmation.Subject = subject
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return confirmation, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			text := strings.TrimRight(string(body), "\r\n")
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				if confirmation.TextBody == "" {
					confirmation.TextBody = text
				} else {
					confirmation.TextBody += "\n" + text
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if confirmation.HTMLBody == "" {
					confirmation.HTMLBody = text
				} else {
					confirmation.HTMLBody += "\n" + text
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			confirmation.Attachments = append(confirmation.Attachments, AttachmentInfo{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
			})
		}
	}

	return confirmation, nil
}
