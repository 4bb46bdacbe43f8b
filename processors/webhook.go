package processors

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// SignatureHeader carries the HMAC-SHA256 signature of the webhook body
// when the subscription has a secret.
const SignatureHeader = "X-Webhook-Signature"

// Webhook delivers event payloads to subscriber endpoints.
//
// Parameters: url (required), payload (JSON object), secret (optional).
// 4xx responses are permanent rejections; 5xx responses and network errors
// are transient and retried.
type Webhook struct {
	client *http.Client
}

// NewWebhook creates a webhook processor. A nil client gets a 10 second
// request timeout.
func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{client: client}
}

func (w *Webhook) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	url, err := requireString(j, "url")
	if err != nil {
		return nil, err
	}

	payload := mapParam(j, "payload")
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, qerrors.NonRetryablef("encode webhook payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.NonRetryablef("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if secret := stringParam(j, "secret"); secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, qerrors.Retryablef("webhook delivery to %s: %v", url, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return job.Result{
			"status_code":  resp.StatusCode,
			"url":          url,
			"delivered_at": job.FormatTime(time.Now()),
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, qerrors.NonRetryable(
			fmt.Errorf("webhook delivery rejected: %s", resp.Status))
	default:
		return nil, qerrors.Retryablef("webhook delivery failed: %s", resp.Status)
	}
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
