// Adapts *gmail.Service to the small Client interface.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type googleClient struct{ svc *gmailapi.Service }

// NewGoogleClient builds a Gmail API client authenticated with a bearer
// token. A fresh client is cheap; the relay constructs one per send.
func NewGoogleClient(ctx context.Context, token string) (Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &googleClient{svc: svc}, nil
}

func (g *googleClient) Send(ctx context.Context, raw string) (SentMessage, error) {
	msg, err := g.svc.Users.Messages.Send("me", &gmailapi.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return SentMessage{}, err
	}
	return SentMessage{
		ID:       MessageID(msg.Id),
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
	}, nil
}

func (g *googleClient) GetRaw(ctx context.Context, id MessageID) ([]byte, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(msg.Raw, "="))
	if err != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}
	return data, nil
}
