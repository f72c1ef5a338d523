package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier pousse les alertes opérationnelles vers un webhook
// compatible Slack/Mattermost.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	if webhookURL == "" {
		return nil
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, title, text string) error {
	if n == nil || n.webhookURL == "" {
		return errors.New("webhook non configuré")
	}

	body, err := json.Marshal(map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", title, text),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: statut %d", resp.StatusCode)
	}
	return nil
}
