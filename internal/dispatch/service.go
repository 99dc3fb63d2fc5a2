// Package dispatch sends built emails through the Gmail API and verifies
// delivery by reading the sent message back.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/googleapi"

	"github.io/infrasutra/jobmail/internal/email"
	"github.io/infrasutra/jobmail/internal/gmail"
)

// RejectedError carries the provider's reason for refusing a send.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("send rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Result reports an accepted send. Echo is the parsed sent message fetched
// back from the provider; it is nil when the confirmation fetch failed,
// which does not fail the send.
type Result struct {
	MessageID gmail.MessageID
	ThreadID  string
	Echo      *Confirmation
}

type Service struct {
	NewClient func(ctx context.Context, token string) (gmail.Client, error)
	Logger    *slog.Logger
}

func NewService(newClient func(ctx context.Context, token string) (gmail.Client, error), logger *slog.Logger) *Service {
	return &Service{NewClient: newClient, Logger: logger}
}

func (s *Service) Send(ctx context.Context, token string, msg email.Message) (Result, error) {
	client, err := s.NewClient(ctx, token)
	if err != nil {
		return Result{}, fmt.Errorf("create mail client: %w", err)
	}

	raw := email.Build(msg)
	sent, err := client.Send(ctx, raw)
	if err != nil {
		return Result{}, &RejectedError{Reason: rejectionReason(err), Err: err}
	}

	result := Result{MessageID: sent.ID, ThreadID: sent.ThreadID}

	// Confirmation is best-effort: the message already left.
	data, err := client.GetRaw(ctx, sent.ID)
	if err != nil {
		s.Logger.Warn("confirmation fetch failed", "id", sent.ID, "error", err)
		return result, nil
	}
	echo, err := ParseConfirmation(data)
	if err != nil {
		s.Logger.Warn("confirmation parse failed", "id", sent.ID, "error", err)
		return result, nil
	}
	result.Echo = &echo
	return result, nil
}

func rejectionReason(err error) string {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
