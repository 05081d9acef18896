package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gigmarket/notify-pipeline/internal/directory"
	"github.com/gigmarket/notify-pipeline/internal/domain"
	"github.com/gigmarket/notify-pipeline/internal/provider"
	"github.com/gigmarket/notify-pipeline/internal/ratelimiter"
)

// Outcome is the composed result of one delivery pass over an item.
// OverallSuccess is an OR across channels: multi-channel delivery is
// redundancy, not an all-or-nothing contract.
type Outcome struct {
	OverallSuccess bool
	PerChannel     map[domain.Channel]domain.DeliveryResult
}

// AuditSink receives one append-only record per channel attempt.
// The queue repository satisfies it.
type AuditSink interface {
	RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
}

// Orchestrator fans one queue item out across its requested channels and
// composes an overall result. Channel failures are isolated: a push failure
// never blocks the email attempt.
type Orchestrator struct {
	providers map[domain.Channel]provider.Provider
	resolver  directory.Resolver
	flags     directory.FlagResolver
	inbox     directory.InboxStore
	audit     AuditSink
	limiter   *ratelimiter.ChannelLimiters
	logger    *zap.Logger
}

func NewOrchestrator(
	providers []provider.Provider,
	resolver directory.Resolver,
	flags directory.FlagResolver,
	inbox directory.InboxStore,
	audit AuditSink,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
) *Orchestrator {
	byChannel := make(map[domain.Channel]provider.Provider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	return &Orchestrator{
		providers: byChannel,
		resolver:  resolver,
		flags:     flags,
		inbox:     inbox,
		audit:     audit,
		limiter:   limiter,
		logger:    logger,
	}
}

// Deliver attempts every requested channel independently, records one audit
// row per channel attempt, and returns the composed outcome.
//
// An unresolvable recipient short-circuits: every channel gets a structured
// USER_NOT_FOUND result and no provider is called.
func (o *Orchestrator) Deliver(ctx context.Context, item *domain.QueueItem) Outcome {
	log := o.logger.With(
		zap.String("queue_id", item.ID),
		zap.String("recipient_id", item.RecipientID),
		zap.String("correlation_id", item.CorrelationID),
	)

	outcome := Outcome{PerChannel: make(map[domain.Channel]domain.DeliveryResult, len(item.Channels))}

	rec, err := o.resolver.ResolveRecipient(ctx, item.RecipientID)
	if err != nil {
		code := domain.ErrCodeStorageError
		if err == domain.ErrNotFound {
			code = domain.ErrCodeUserNotFound
		}
		log.Warn("recipient unresolvable", zap.String("error_code", code), zap.Error(err))
		for _, ch := range item.Channels {
			result := domain.DeliveryResult{
				ErrorCode:    code,
				ErrorMessage: domain.TruncateError(err.Error()),
			}
			outcome.PerChannel[ch] = result
			o.recordAttempt(ctx, item, ch, result)
		}
		return outcome
	}

	for _, ch := range item.Channels {
		result := o.attemptChannel(ctx, item, rec, ch)
		outcome.PerChannel[ch] = result
		outcome.OverallSuccess = outcome.OverallSuccess || result.Success
		o.recordAttempt(ctx, item, ch, result)

		if result.Success {
			log.Info("channel delivered",
				zap.String("channel", string(ch)),
				zap.String("provider", result.Provider),
				zap.String("provider_msg_id", result.ProviderMessageID))
		} else {
			log.Warn("channel failed",
				zap.String("channel", string(ch)),
				zap.String("error_code", result.ErrorCode))
		}
	}

	return outcome
}

func (o *Orchestrator) attemptChannel(ctx context.Context, item *domain.QueueItem, rec *domain.Recipient, ch domain.Channel) domain.DeliveryResult {
	if !o.flags.IsEnabled(directory.ChannelFlag(ch)) {
		return domain.DeliveryResult{
			ErrorCode:    domain.ErrCodeFeatureDisabled,
			ErrorMessage: "channel disabled by feature flag",
		}
	}

	switch ch {
	case domain.ChannelPush:
		return o.attemptPush(ctx, item, rec)
	case domain.ChannelEmail:
		return o.attemptEmail(ctx, item, rec)
	case domain.ChannelInApp:
		return o.attemptInApp(ctx, item)
	default:
		// sms is a reserved channel; anything else is unregistered.
		return domain.DeliveryResult{
			ErrorCode:    domain.ErrCodeNotImplemented,
			ErrorMessage: "channel has no provider",
		}
	}
}

func (o *Orchestrator) attemptPush(ctx context.Context, item *domain.QueueItem, rec *domain.Recipient) domain.DeliveryResult {
	prov, ok := o.providers[domain.ChannelPush]
	if !ok {
		return domain.DeliveryResult{ErrorCode: domain.ErrCodeNotImplemented, ErrorMessage: "push provider not registered"}
	}
	if !prov.Ready() {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeProviderNotReady, ErrorMessage: "push credentials missing"}
	}

	tokens, err := o.resolver.PushTokens(ctx, rec.ID)
	if err != nil {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeStorageError, ErrorMessage: domain.TruncateError(err.Error())}
	}
	if len(tokens) == 0 {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeNoPushTokens, ErrorMessage: "recipient has no active device tokens"}
	}

	if err := o.limiter.Wait(ctx, domain.ChannelPush); err != nil {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeSendFailed, ErrorMessage: "cancelled while rate limited"}
	}

	return prov.Send(ctx, provider.Message{
		QueueID:       item.ID,
		RecipientID:   rec.ID,
		Tokens:        tokens,
		Title:         item.Title,
		Body:          item.Body,
		Data:          item.Data,
		CorrelationID: item.CorrelationID,
	})
}

func (o *Orchestrator) attemptEmail(ctx context.Context, item *domain.QueueItem, rec *domain.Recipient) domain.DeliveryResult {
	prov, ok := o.providers[domain.ChannelEmail]
	if !ok {
		return domain.DeliveryResult{ErrorCode: domain.ErrCodeNotImplemented, ErrorMessage: "email provider not registered"}
	}
	if !prov.Ready() {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeProviderNotReady, ErrorMessage: "email credentials missing"}
	}
	if rec.Email == nil || *rec.Email == "" {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeNoEmail, ErrorMessage: "recipient has no email address"}
	}

	if err := o.limiter.Wait(ctx, domain.ChannelEmail); err != nil {
		return domain.DeliveryResult{Provider: prov.Name(), ErrorCode: domain.ErrCodeSendFailed, ErrorMessage: "cancelled while rate limited"}
	}

	return prov.Send(ctx, provider.Message{
		QueueID:       item.ID,
		RecipientID:   rec.ID,
		EmailAddress:  *rec.Email,
		Title:         item.Title,
		Body:          item.Body,
		Data:          item.Data,
		CorrelationID: item.CorrelationID,
	})
}

// attemptInApp writes the persisted record directly — no external provider,
// always available if storage is reachable.
func (o *Orchestrator) attemptInApp(ctx context.Context, item *domain.QueueItem) domain.DeliveryResult {
	rec := &domain.InAppNotification{
		ID:          uuid.New().String(),
		RecipientID: item.RecipientID,
		QueueID:     item.ID,
		Type:        item.Type,
		Title:       item.Title,
		Body:        item.Body,
		Data:        item.Data,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.inbox.CreateRecord(ctx, rec); err != nil {
		return domain.DeliveryResult{
			Provider:     "inbox",
			ErrorCode:    domain.ErrCodeStorageError,
			ErrorMessage: domain.TruncateError(err.Error()),
		}
	}
	return domain.DeliveryResult{
		Success:           true,
		Provider:          "inbox",
		ProviderMessageID: rec.ID,
	}
}

// recordAttempt appends the audit row. Failures are logged and swallowed:
// a broken audit trail must never flip a delivery outcome.
func (o *Orchestrator) recordAttempt(ctx context.Context, item *domain.QueueItem, ch domain.Channel, result domain.DeliveryResult) {
	attempt := &domain.DeliveryAttempt{
		ID:                uuid.New().String(),
		QueueID:           item.ID,
		RecipientID:       item.RecipientID,
		Channel:           ch,
		Success:           result.Success,
		Provider:          result.Provider,
		ProviderMessageID: result.ProviderMessageID,
		ErrorCode:         result.ErrorCode,
		ErrorMessage:      result.ErrorMessage,
		AttemptedAt:       time.Now().UTC(),
	}
	if err := o.audit.RecordAttempt(ctx, attempt); err != nil {
		o.logger.Error("failed to record delivery attempt",
			zap.String("queue_id", item.ID),
			zap.String("channel", string(ch)),
			zap.Error(err))
	}
}
