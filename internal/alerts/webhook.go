package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orgline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs alerts as JSON. Types filters alert types; empty means
// every alert.
type WebhookSink struct {
	ID      string
	URL     string
	Secret  string
	Types   []string
	Timeout time.Duration
	Client  *http.Client
	Company string
}

func (w *WebhookSink) Name() string {
	if w.ID != "" {
		return "webhook:" + w.ID
	}
	return "webhook:" + w.URL
}

type webhookAlert struct {
	ID         string `json:"id"`
	AlertType  string `json:"alert_type"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	Subject    string `json:"subject,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	DetectedAt string `json:"detected_at"`
}

func (w *WebhookSink) Notify(ctx context.Context, a domain.Alert) error {
	if !newTypeFilter(w.Types).match(a.AlertType) {
		return nil
	}
	body := webhookAlert{
		ID:         a.ID,
		AlertType:  a.AlertType,
		Message:    a.Message,
		Severity:   string(a.Severity),
		Subject:    a.Subject,
		CompanyID:  w.Company,
		DetectedAt: a.DetectedAt.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orgline-Alert", a.AlertType)
	req.Header.Set("X-Orgline-Delivery", a.ID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Orgline-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
