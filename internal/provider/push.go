package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// tokenPattern is a shape check, not an authenticity check: device tokens
// are opaque strings of URL-safe characters plus ':' within a sane length.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_:\-]{16,512}$`)

// multicastRequest is the JSON body posted to the FCM-style endpoint.
type multicastRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    pushNotification  `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// multicastResponse maps the endpoint's 200 response body.
type multicastResponse struct {
	MulticastID int64 `json:"multicast_id"`
	Success     int   `json:"success"`
	Failure     int   `json:"failure"`
	Results     []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// PushProvider delivers to device tokens through one multicast call against
// an FCM-style HTTP endpoint. The endpoint is injected from config so tests
// can point to a local mock.
type PushProvider struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
}

func NewPushProvider(endpoint, serverKey string, timeout time.Duration) *PushProvider {
	return &PushProvider{
		endpoint:  endpoint,
		serverKey: serverKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *PushProvider) Channel() domain.Channel { return domain.ChannelPush }
func (p *PushProvider) Name() string            { return "fcm" }

// Ready reports whether credentials are configured. No I/O.
func (p *PushProvider) Ready() bool {
	return p.endpoint != "" && p.serverKey != ""
}

// Send validates token shapes locally, then issues one multicast POST for
// all valid tokens. Malformed tokens never reach the network.
func (p *PushProvider) Send(ctx context.Context, msg Message) domain.DeliveryResult {
	valid := make([]string, 0, len(msg.Tokens))
	invalid := 0
	for _, token := range msg.Tokens {
		if tokenPattern.MatchString(token) {
			valid = append(valid, token)
		} else {
			invalid++
		}
	}

	meta := map[string]string{
		"valid_tokens":   strconv.Itoa(len(valid)),
		"invalid_tokens": strconv.Itoa(invalid),
	}

	if len(valid) == 0 {
		return domain.DeliveryResult{
			Provider:     p.Name(),
			ErrorCode:    domain.ErrCodeNoValidTokens,
			ErrorMessage: fmt.Sprintf("all %d tokens malformed", len(msg.Tokens)),
			Metadata:     meta,
		}
	}

	body, err := json.Marshal(multicastRequest{
		RegistrationIDs: valid,
		Notification:    pushNotification{Title: msg.Title, Body: msg.Body},
		Data:            msg.Data,
	})
	if err != nil {
		return p.failure(domain.ErrCodeSendFailed, fmt.Sprintf("marshal request: %v", err), meta)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return p.failure(domain.ErrCodeSendFailed, fmt.Sprintf("create request: %v", err), meta)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.failure(domain.ErrCodeSendFailed, err.Error(), meta)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.failure("HTTP_"+strconv.Itoa(resp.StatusCode),
			fmt.Sprintf("unexpected gateway status: %d", resp.StatusCode), meta)
	}

	var mc multicastResponse
	if err := json.NewDecoder(resp.Body).Decode(&mc); err != nil {
		return p.failure(domain.ErrCodeSendFailed, fmt.Sprintf("decode response: %v", err), meta)
	}

	meta["success_count"] = strconv.Itoa(mc.Success)
	meta["failure_count"] = strconv.Itoa(mc.Failure)

	if mc.Success == 0 {
		code := domain.ErrCodeSendFailed
		msgText := "all tokens rejected by gateway"
		// Surface the gateway's native error code for the first rejection.
		if len(mc.Results) > 0 && mc.Results[0].Error != "" {
			code = mc.Results[0].Error
		}
		return p.failure(code, msgText, meta)
	}

	result := domain.DeliveryResult{
		Success:           true,
		Provider:          p.Name(),
		ProviderMessageID: strconv.FormatInt(mc.MulticastID, 10),
		Metadata:          meta,
	}
	if len(mc.Results) > 0 && mc.Results[0].MessageID != "" {
		result.ProviderMessageID = mc.Results[0].MessageID
	}
	return result
}

func (p *PushProvider) failure(code, msg string, meta map[string]string) domain.DeliveryResult {
	return domain.DeliveryResult{
		Provider:     p.Name(),
		ErrorCode:    code,
		ErrorMessage: domain.TruncateError(msg),
		Metadata:     meta,
	}
}

// compile-time check that PushProvider implements Provider
var _ Provider = (*PushProvider)(nil)
