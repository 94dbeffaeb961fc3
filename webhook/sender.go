package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	userAgent       = "Collections-Webhook/1.0"
)

// Sender delivers one signed envelope to a tenant endpoint. Single attempt;
// retry policy lives in the outbox dispatcher, not here.
type Sender interface {
	Deliver(ctx context.Context, url string, secret string, envelope Envelope) error
}

type httpSender struct {
	http *http.Client
}

func NewSender() Sender {
	return &httpSender{
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *httpSender) Deliver(ctx context.Context, url string, secret string, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if secret != "" {
		signature, err := Sign(envelope, secret)
		if err != nil {
			return err
		}
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
