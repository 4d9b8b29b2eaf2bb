package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tanmaysingewar/betterindex/internal/chat"
)

// ServerAPI is the slice of the server the session controller needs; the
// concrete API implements it over HTTP.
type ServerAPI interface {
	Messages(ctx context.Context, chatID string) ([]chat.Entry, error)
	Complete(ctx context.Context, chatID string, req CompleteRequest, onChunk func(delta string)) (*StreamResult, error)
}

type CompleteRequest struct {
	Message               string       `json:"message"`
	PreviousConversations []chat.Entry `json:"previous_conversations,omitempty"`
	Model                 string       `json:"model,omitempty"`
	SearchEnabled         bool         `json:"search_enabled,omitempty"`
	Attachment            *string      `json:"attachment,omitempty"`

	Edited bool `json:"-"`
	Shared bool `json:"-"`
}

type StreamResult struct {
	Title string
}

// APIError carries the server's status and message for non-OK responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server: %s (status %d)", e.Message, e.Status)
}

type API struct {
	BaseURL  string
	Token    string
	DeviceID string
	HTTP     *http.Client
}

func NewAPI(baseURL, token, deviceID string) *API {
	return &API{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		DeviceID: deviceID,
		HTTP:     &http.Client{},
	}
}

func (a *API) setIdentity(req *http.Request) {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	} else if a.DeviceID != "" {
		req.Header.Set("X-Device-ID", a.DeviceID)
	}
}

func decodeFail(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if err := json.Unmarshal(b, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(b))
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Message}
}

func (a *API) Messages(ctx context.Context, chatID string) ([]chat.Entry, error) {
	u := fmt.Sprintf("%s/messages?chatId=%s", a.BaseURL, url.QueryEscape(chatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	a.setIdentity(req)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeFail(resp)
	}

	var entries []chat.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *API) Chats(ctx context.Context, page, limit int) (*ChatList, error) {
	u := fmt.Sprintf("%s/chats?page=%d&limit=%d", a.BaseURL, page, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	a.setIdentity(req)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeFail(resp)
	}

	var envelope struct {
		Data struct {
			Chats      []chat.ChatSummary `json:"chats"`
			Pagination chat.Pagination    `json:"pagination"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return &ChatList{Chats: envelope.Data.Chats, Pagination: envelope.Data.Pagination}, nil
}

func (a *API) Quota(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/quota", nil)
	if err != nil {
		return 0, err
	}
	a.setIdentity(req)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeFail(resp)
	}

	var envelope struct {
		Data struct {
			Remaining int `json:"remaining"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, err
	}
	return envelope.Data.Remaining, nil
}

// Complete issues one streaming conversation turn, invoking onChunk for each
// delta as it arrives. Closing ctx aborts the stream promptly.
func (a *API) Complete(ctx context.Context, chatID string, creq CompleteRequest, onChunk func(delta string)) (*StreamResult, error) {
	b, err := json.Marshal(creq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Chat-ID", chatID)
	if creq.Edited {
		req.Header.Set("X-Edited-Message", "1")
	}
	if creq.Shared {
		req.Header.Set("X-Shared", "1")
	}
	a.setIdentity(req)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeFail(resp)
	}

	result := &StreamResult{Title: resp.Header.Get("X-Title")}

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	event := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "chunk":
				var payload struct {
					Delta string `json:"delta"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return result, err
				}
				if payload.Delta != "" && onChunk != nil {
					onChunk(payload.Delta)
				}
			case "error":
				var payload struct {
					Message string `json:"message"`
				}
				_ = json.Unmarshal([]byte(data), &payload)
				if payload.Message == "" {
					payload.Message = "stream failed"
				}
				return result, errors.New(payload.Message)
			case "done":
				var payload struct {
					Title string `json:"title"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.Title != "" {
					result.Title = payload.Title
				}
				return result, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return result, err
	}
	// the stream must end with a done or error event
	return result, errors.New("stream ended without done event")
}
