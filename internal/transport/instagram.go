// Package transport delivers outbound messages through the Instagram
// Graph API.
package transport

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

const sendTimeout = 10 * time.Second

// Instagram sends direct messages on behalf of the shop account.
// Delivery failures are returned to the caller, which logs them; the
// orchestrator never retries sends.
type Instagram struct {
	graphBaseURL string
	accessToken  string
	httpClient   *http.Client
}

// NewInstagram creates a sender against the given Graph API base URL,
// e.g. "https://graph.instagram.com/v21.0".
func NewInstagram(graphBaseURL, accessToken string) *Instagram {
	return &Instagram{
		graphBaseURL: strings.TrimRight(graphBaseURL, "/"),
		accessToken:  accessToken,
		httpClient:   &http.Client{},
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send delivers one text message to the recipient.
func (t *Instagram) Send(ctx context.Context, recipientID, text string) error {
	var payload sendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.graphBaseURL+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.accessToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
