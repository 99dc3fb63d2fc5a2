package email

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Message is one outbound email, constructed per send and never persisted.
type Message struct {
	To          string
	Subject     string
	Body        string
	HTML        bool
	Attachments []Attachment
}

type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// WireAttachment is the form attachments arrive in over the relay protocol:
// base64-encoded bytes plus metadata.
type WireAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// DecodeAttachments converts wire attachments to binary ones. An attachment
// whose data cannot be decoded is skipped with a warning instead of failing
// the send; a body-only email is still useful.
func DecodeAttachments(wire []WireAttachment) ([]Attachment, []string) {
	var attachments []Attachment
	var warnings []string
	for _, att := range wire {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(att.Data))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("attachment %q skipped: invalid base64 data", att.Name))
			continue
		}
		mimeType := att.Type
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		attachments = append(attachments, Attachment{
			Filename: att.Name,
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return attachments, warnings
}
