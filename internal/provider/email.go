package provider

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mrz1836/postmark"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// emailScrubPattern matches anything address-shaped inside free-form error
// text so provider messages can be persisted without leaking recipients.
var emailScrubPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// scrubEmails redacts email addresses from error text before it reaches
// logs or the audit trail.
func scrubEmails(text string) string {
	return emailScrubPattern.ReplaceAllString(text, "[redacted]")
}

// postmarkSender is the slice of the Postmark client the provider uses;
// tests substitute a stub.
type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailProvider delivers through Postmark's transactional API.
type EmailProvider struct {
	client postmarkSender
	from   string
}

// NewEmailProvider builds the Postmark-backed email provider. Empty tokens
// leave the provider constructed but not Ready, matching the contract that
// readiness is a config check rather than a constructor failure.
func NewEmailProvider(serverToken, accountToken, from string) *EmailProvider {
	var client postmarkSender
	if serverToken != "" {
		client = postmark.NewClient(serverToken, accountToken)
	}
	return &EmailProvider{client: client, from: from}
}

func (p *EmailProvider) Channel() domain.Channel { return domain.ChannelEmail }
func (p *EmailProvider) Name() string            { return "postmark" }

// Ready reports whether credentials are configured. No I/O.
func (p *EmailProvider) Ready() bool {
	return p.client != nil && p.from != ""
}

// Send validates the address format, then submits one transactional email.
// On success the Postmark message id is kept for later correlation; on
// failure the native error code passes through and any email addresses in
// the error text are scrubbed before persistence.
func (p *EmailProvider) Send(ctx context.Context, msg Message) domain.DeliveryResult {
	if !emailPattern.MatchString(msg.EmailAddress) {
		return domain.DeliveryResult{
			Provider:     p.Name(),
			ErrorCode:    domain.ErrCodeNoEmail,
			ErrorMessage: "recipient address is not a valid email",
		}
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.from,
		To:       msg.EmailAddress,
		Subject:  msg.Title,
		TextBody: msg.Body,
		Tag:      msg.CorrelationID,
		Metadata: msg.Data,
	})
	if err != nil {
		return p.failure(domain.ErrCodeSendFailed, err.Error())
	}
	if resp.ErrorCode > 0 {
		return p.failure(fmt.Sprintf("POSTMARK_%d", resp.ErrorCode), resp.Message)
	}

	return domain.DeliveryResult{
		Success:           true,
		Provider:          p.Name(),
		ProviderMessageID: resp.MessageID,
	}
}

func (p *EmailProvider) failure(code, msg string) domain.DeliveryResult {
	return domain.DeliveryResult{
		Provider:     p.Name(),
		ErrorCode:    code,
		ErrorMessage: domain.TruncateError(scrubEmails(msg)),
	}
}

// compile-time check that EmailProvider implements Provider
var _ Provider = (*EmailProvider)(nil)
