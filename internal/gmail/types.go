package gmail

type MessageID string

// SentMessage is the provider's acknowledgement of an accepted send.
type SentMessage struct {
	ID       MessageID
	ThreadID string
	LabelIDs []string
}
