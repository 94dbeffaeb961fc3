package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Sender is the notification trigger gateway. One attempt per call; callers
// persist the message record before invoking it and record the outcome
// afterwards, so transport errors are data, never control flow.
type Sender interface {
	SendText(ctx context.Context, toNumber string, content string) (messageId string, err error)
	SendTemplate(ctx context.Context, toNumber string, templateName string, languageCode string, params TemplateParams) (messageId string, err error)
}

type client struct {
	baseURL       string
	apiToken      string
	phoneNumberId string
	http          *http.Client
}

// NewClient builds a Cloud API client from the environment:
// WHATSAPP_API_URL, WHATSAPP_API_TOKEN, WHATSAPP_PHONE_NUMBER_ID.
func NewClient() (Sender, error) {
	baseURL := strings.TrimSpace(os.Getenv("WHATSAPP_API_URL"))
	apiToken := strings.TrimSpace(os.Getenv("WHATSAPP_API_TOKEN"))
	phoneNumberId := strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_NUMBER_ID"))
	if baseURL == "" || apiToken == "" || phoneNumberId == "" {
		return nil, errors.New("whatsapp api not configured: set WHATSAPP_API_URL, WHATSAPP_API_TOKEN and WHATSAPP_PHONE_NUMBER_ID")
	}
	return &client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiToken:      apiToken,
		phoneNumberId: phoneNumberId,
		http:          &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *client) SendText(ctx context.Context, toNumber string, content string) (string, error) {
	payload := sendRequest{
		MessagingProduct: "whatsapp",
		To:               toNumber,
		Type:             "text",
		Text:             &textBody{Body: content},
	}
	return c.post(ctx, payload)
}

func (c *client) SendTemplate(ctx context.Context, toNumber string, templateName string, languageCode string, params TemplateParams) (string, error) {
	ref := templateRef{
		Name:     templateName,
		Language: templateLanguage{Code: languageCode},
	}
	var parameters []templateParameter
	for _, text := range []string{params.AgentName, params.Amount, params.DueDate} {
		if text != "" {
			parameters = append(parameters, templateParameter{Type: "text", Text: text})
		}
	}
	if len(parameters) > 0 {
		ref.Components = []templateComponent{{Type: "body", Parameters: parameters}}
	}
	payload := sendRequest{
		MessagingProduct: "whatsapp",
		To:               toNumber,
		Type:             "template",
		Template:         &ref,
	}
	return c.post(ctx, payload)
}

func (c *client) post(ctx context.Context, payload sendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberId)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("whatsapp api error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Messages) == 0 {
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}
