package provider

import (
	"context"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// Message is the channel-agnostic payload handed to a provider. The
// orchestrator fills in the recipient-specific fields (tokens, address)
// before delegating.
type Message struct {
	QueueID       string
	RecipientID   string
	Tokens        []string // push only
	EmailAddress  string   // email only
	Title         string
	Body          string
	Data          map[string]string
	CorrelationID string
}

// Provider is the uniform contract for one delivery channel. Implementations
// must be substitutable by test doubles: the orchestrator is unit-tested with
// zero live network dependency.
//
// Ready is a configuration check only — no I/O. Send never returns a Go
// error: transport failures are folded into the DeliveryResult so the
// orchestrator treats every outcome uniformly.
type Provider interface {
	Channel() domain.Channel
	Name() string
	Ready() bool
	Send(ctx context.Context, msg Message) domain.DeliveryResult
}
