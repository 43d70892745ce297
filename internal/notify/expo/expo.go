package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/capturesync/internal/notify"
)

const defaultPushURL = "https://exp.host/--/api/v2/push/send"

// pushMessage mirrors the Expo push API request body.
type pushMessage struct {
	To    string `json:"to"`
	Sound string `json:"sound"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  any    `json:"data,omitempty"`
}

type pushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type pushResponse struct {
	Data   pushTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Sender posts notifications to the Expo push service.
type Sender struct {
	url    string
	client *http.Client
}

func NewSender(url string) *Sender {
	if url == "" {
		url = defaultPushURL
	}
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Sender) Send(ctx context.Context, token string, msg notify.Message) error {
	payload, err := json.Marshal(pushMessage{
		To:    token,
		Sound: "default",
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call push service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close push response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push service returned status %d: %s", resp.StatusCode, errBody)
	}

	var respBody pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respBody.Errors) > 0 {
		return fmt.Errorf("push service error %s: %s", respBody.Errors[0].Code, respBody.Errors[0].Message)
	}
	if respBody.Data.Status == "error" {
		return fmt.Errorf("push ticket rejected (%s): %s", respBody.Data.Details.Error, respBody.Data.Message)
	}
	return nil
}
