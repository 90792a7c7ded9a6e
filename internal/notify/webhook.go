package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/conductor/internal/pd"
)

const (
	SignatureHeader = "X-Conductor-Signature"
	DeliveryHeader  = "X-Conductor-Delivery"
	EventHeader     = "X-Conductor-Event"
)

var errVerification = errors.New("webhook verification failed")

// WebhookNotifier POSTs the process snapshot to every subscriber that is an
// http(s) URL. Other subscriber forms are left to other notifiers.
type WebhookNotifier struct {
	client *http.Client
	secret string
	logger *slog.Logger
}

func NewWebhookNotifier(secret string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		secret: secret,
		logger: logger.With("component", "notify.webhook"),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, p pd.Process) error {
	targets := webhookTargets(p.Subscribers)
	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(Snapshot(p))
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", p.EPID, err)
	}

	var errs []error
	for _, target := range targets {
		if err := w.deliver(ctx, target, EventType(p.State), body); err != nil {
			w.logger.Warn("webhook delivery failed", "epid", p.EPID, "target", target, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebhookNotifier) deliver(ctx context.Context, target, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	delivery := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, delivery)
	req.Header.Set(EventHeader, eventType)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %d (delivery %s)", target, resp.StatusCode, delivery)
	}
	return nil
}

func webhookTargets(subscribers []string) []string {
	var out []string
	for _, s := range subscribers {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			out = append(out, s)
		}
	}
	return out
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in "sha256=<hex>" or plain hex form.
// Errors are deliberately generic.
func Verify(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errVerification
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return errVerification
	}
	return nil
}
