package gmail

import "context"

// Client is the narrow Gmail surface jobmail needs: submit a raw message and
// fetch one back for verification.
type Client interface {
	Send(ctx context.Context, raw string) (SentMessage, error)
	GetRaw(ctx context.Context, id MessageID) ([]byte, error)
}
