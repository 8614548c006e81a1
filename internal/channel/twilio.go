package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Twilio implements domain.Sender over the Twilio Messages REST API.
// All sends share one limiter so concurrent workers stay under the
// account's throughput cap.
type Twilio struct {
	apiBase    string
	accountSID string
	authToken  string
	from       string
	timeout    time.Duration
	limiter    *rate.Limiter
	client     *http.Client
	logger     *slog.Logger
}

type TwilioConfig struct {
	APIBase       string
	AccountSID    string
	AuthToken     string
	From          string // e.g. "whatsapp:+14155238886"
	SendTimeout   time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// APIError is a non-2xx answer from Twilio.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio API %d (code %d): %s", e.Status, e.Code, e.Message)
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.APIBase == "" {
		cfg.APIBase = twilioAPIBase
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Twilio{
		apiBase:    strings.TrimSuffix(cfg.APIBase, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		timeout:    cfg.SendTimeout,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (t *Twilio) Name() string { return "twilio" }

// Send posts one message and returns its SID. The wait for a rate-limit
// token counts against the send timeout.
func (t *Twilio) Send(ctx context.Context, to, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.apiBase, url.PathEscape(t.accountSID))
	form := url.Values{}
	form.Set("From", t.from)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		apiErr.Status = resp.StatusCode
		return "", apiErr
	}

	var msg struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	t.logger.Debug("twilio message queued", "sid", msg.SID, "status", msg.Status, "to", to, "len", len(body))
	return msg.SID, nil
}
