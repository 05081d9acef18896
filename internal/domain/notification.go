package domain

import (
	"math"
	"time"
)

// Channel is one delivery medium for a queued notification.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelInApp, ChannelSMS:
		return true
	}
	return false
}

// AllChannels lists every known channel.
// Used by the rate limiter and metrics registration.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelInApp, ChannelSMS}
}

// Priority controls claim ordering. Critical is processed first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank maps a priority to its numeric ordering weight (higher first).
// The claim query's CASE expression mirrors this mapping.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Status tracks the lifecycle of a queue item.
//
//	pending → processing → delivered
//	                     → pending   (retry, attempts < max)
//	                     → failed    (dead-letter, attempts == max)
//
// Delivered and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// NotificationType is the closed set of business events that produce
// notifications in the marketplace.
type NotificationType string

const (
	TypeMessageReceived      NotificationType = "message_received"
	TypeMissionAssigned      NotificationType = "mission_assigned"
	TypeMissionStatusChanged NotificationType = "mission_status_changed"
	TypeMissionCancelled     NotificationType = "mission_cancelled"
	TypeMissionReminder      NotificationType = "mission_reminder"
	TypePaymentReceived      NotificationType = "payment_received"
	TypePaymentFailed        NotificationType = "payment_failed"
	TypePayoutSent           NotificationType = "payout_sent"
	TypeReviewReceived       NotificationType = "review_received"
	TypeSecurityAlert        NotificationType = "security_alert"
	TypePasswordChanged      NotificationType = "password_changed"
	TypePromoOffer           NotificationType = "promo_offer"
	TypeNewsletter           NotificationType = "newsletter"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeMessageReceived, TypeMissionAssigned, TypeMissionStatusChanged,
		TypeMissionCancelled, TypeMissionReminder, TypePaymentReceived,
		TypePaymentFailed, TypePayoutSent, TypeReviewReceived,
		TypeSecurityAlert, TypePasswordChanged, TypePromoOffer, TypeNewsletter:
		return true
	}
	return false
}

// IsSecurity reports whether the type is a security notification that must be
// attempted regardless of user opt-out. Upstream policy input, not enforced here.
func (t NotificationType) IsSecurity() bool {
	return t == TypeSecurityAlert || t == TypePasswordChanged
}

// IsMarketing reports whether the type requires explicit marketing opt-in.
// Upstream policy input, not enforced here.
func (t NotificationType) IsMarketing() bool {
	return t == TypePromoOffer || t == TypeNewsletter
}

// Channel-level error codes recorded on DeliveryResult and the attempt log.
const (
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeFeatureDisabled  = "FEATURE_DISABLED"
	ErrCodeProviderNotReady = "PROVIDER_NOT_READY"
	ErrCodeNoPushTokens     = "NO_PUSH_TOKENS"
	ErrCodeNoValidTokens    = "NO_VALID_TOKENS"
	ErrCodeNoEmail          = "NO_EMAIL"
	ErrCodeNotImplemented   = "NOT_IMPLEMENTED"
	ErrCodeSendFailed       = "SEND_FAILED"
	ErrCodeStorageError     = "STORAGE_ERROR"
)

// DeliveryResult is the outcome of one channel attempt.
type DeliveryResult struct {
	Success           bool              `json:"success"`
	Provider          string            `json:"provider"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// QueueItem is one durable record of a notification awaiting delivery.
// Created by producers, mutated only by the worker (status transitions)
// and the orchestrator (result write-back), never deleted.
type QueueItem struct {
	ID              string                     `json:"id"`
	RecipientID     string                     `json:"recipient_id"`
	Type            NotificationType           `json:"type"`
	Title           string                     `json:"title"`
	Body            string                     `json:"body"`
	Data            map[string]string          `json:"data,omitempty"`
	Channels        []Channel                  `json:"channels"`
	Priority        Priority                   `json:"priority"`
	ScheduledFor    time.Time                  `json:"scheduled_for"`
	Status          Status                     `json:"status"`
	Attempts        int                        `json:"attempts"`
	MaxAttempts     int                        `json:"max_attempts"`
	LastAttemptAt   *time.Time                 `json:"last_attempt_at,omitempty"`
	DeliveredAt     *time.Time                 `json:"delivered_at,omitempty"`
	FailedAt        *time.Time                 `json:"failed_at,omitempty"`
	ErrorMessage    *string                    `json:"error_message,omitempty"`
	CorrelationID   string                     `json:"correlation_id,omitempty"`
	IdempotencyKey  *string                    `json:"idempotency_key,omitempty"`
	DeliveryResults map[Channel]DeliveryResult `json:"delivery_results,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// DeliveryAttempt is one append-only audit row: exactly one per channel
// attempt per processing pass.
type DeliveryAttempt struct {
	ID                string    `json:"id"`
	QueueID           string    `json:"queue_id"`
	RecipientID       string    `json:"recipient_id"`
	Channel           Channel   `json:"channel"`
	Success           bool      `json:"success"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	AttemptedAt       time.Time `json:"attempted_at"`
}

// Recipient is the resolved delivery target, owned by the wider backend
// and consulted through the directory.
type Recipient struct {
	ID                string  `json:"id"`
	Email             *string `json:"email,omitempty"`
	OptedOutMarketing bool    `json:"opted_out_marketing"`
}

// InAppNotification is the lightweight persisted record written for the
// in_app channel; surfaced through the inbox endpoints.
type InAppNotification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	QueueID     string            `json:"queue_id"`
	Type        NotificationType  `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DefaultMaxAttempts is applied when the producer does not set one.
const DefaultMaxAttempts = 3

// retryBase is the exponential backoff base, in minutes.
const retryBase = 3

// RetryDelay returns the backoff before the next attempt after `attempts`
// completed passes: 3^(attempts-1) minutes — 1m, 3m, 9m, 27m, …
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	minutes := math.Pow(retryBase, float64(attempts-1))
	return time.Duration(minutes) * time.Minute
}

// MaxErrorMessageLen bounds persisted error text.
const MaxErrorMessageLen = 500

// TruncateError clips error text before persistence so provider stack dumps
// cannot bloat queue rows or the attempt log.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLen {
		return msg[:MaxErrorMessageLen]
	}
	return msg
}

// EnqueueRequest is the producer contract: an opaque insert. Producers own
// business-level dedup via the idempotency key.
type EnqueueRequest struct {
	RecipientID  string            `json:"recipient_id"`
	Type         NotificationType  `json:"type"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
	Channels     []Channel         `json:"channels"`
	Priority     Priority          `json:"priority,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	MaxAttempts  int               `json:"max_attempts,omitempty"`
}

func (r *EnqueueRequest) Validate() error {
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	if r.RecipientID == "" {
		return ErrInvalidRecipient
	}
	if r.Title == "" || len(r.Title) > 256 {
		return ErrInvalidContent
	}
	if len(r.Body) > 4096 {
		return ErrInvalidContent
	}
	if len(r.Channels) == 0 {
		return ErrNoChannels
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
	}
	if r.Priority != "" && !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.MaxAttempts < 0 || r.MaxAttempts > 10 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// ListFilter holds query parameters for paginated queue listing.
type ListFilter struct {
	Status      *Status
	Type        *NotificationType
	RecipientID *string
	Page        int
	Limit       int
}
