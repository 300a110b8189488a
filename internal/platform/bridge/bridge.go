// Package bridge implements the platform capability against a client-bridge
// sidecar: a small service hosting the actual chat-platform SDK and exposing
// it over HTTP. The worker and the sidecar share the download volume, so
// file paths returned by the sidecar are valid locally.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/teledash/teledash/internal/platform"
)

const (
	historyPageSize = 100
	memberPageSize  = 200
)

// Connector opens bridge-backed platform sessions.
type Connector struct {
	endpoint string
	client   *http.Client
}

// NewConnector creates a Connector against the bridge at endpoint.
func NewConnector(endpoint string, client *http.Client) *Connector {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Connector{endpoint: endpoint, client: client}
}

// Connect registers the credentials with the bridge and returns the opened
// session.
func (c *Connector) Connect(ctx context.Context, creds platform.Credentials) (platform.Session, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sessions", map[string]any{
		"api_id":        creds.APIID,
		"api_hash":      creds.APIHash,
		"session_token": creds.SessionToken,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("opening bridge session: %w", err)
	}
	return &session{connector: c, id: resp.SessionID}, nil
}

// do executes one bridge call, decoding the response into out when non-nil.
// HTTP 429 is translated into the typed rate-limit error so the retry
// executor honors the server-dictated wait.
func (c *Connector) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling bridge request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &platform.RateLimitError{Method: path, RetryAfter: time.Duration(wait) * time.Second}
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding bridge response: %w", err)
	}
	return nil
}

type session struct {
	connector *Connector
	id        string
}

func (s *session) path(suffix string) string {
	return "/v1/sessions/" + s.id + suffix
}

func (s *session) Dialogs(ctx context.Context) ([]platform.ChatInfo, error) {
	var resp struct {
		Chats []chatDTO `json:"chats"`
	}
	if err := s.connector.do(ctx, http.MethodGet, s.path("/dialogs"), nil, &resp); err != nil {
		return nil, err
	}
	chats := make([]platform.ChatInfo, 0, len(resp.Chats))
	for _, dto := range resp.Chats {
		chats = append(chats, dto.info())
	}
	return chats, nil
}

func (s *session) Chat(ctx context.Context, chatID int64) (platform.ChatInfo, error) {
	var dto chatDTO
	path := s.path("/chats/" + strconv.FormatInt(chatID, 10))
	if err := s.connector.do(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return platform.ChatInfo{}, err
	}
	return dto.info(), nil
}

func (s *session) History(ctx context.Context, chatID int64) platform.MessageIterator {
	return &historyIterator{session: s, chatID: chatID}
}

func (s *session) RecentTexts(ctx context.Context, chatID int64) ([]string, error) {
	var resp struct {
		Texts []string `json:"texts"`
	}
	path := s.path("/chats/" + strconv.FormatInt(chatID, 10) + "/recent-texts")
	if err := s.connector.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Texts, nil
}

func (s *session) Members(ctx context.Context, chatID int64) platform.MemberIterator {
	return &memberIterator{session: s, chatID: chatID}
}

func (s *session) Message(ctx context.Context, chatID int64, ordinal int64) (platform.MessageInfo, error) {
	var dto messageDTO
	path := s.path("/chats/" + strconv.FormatInt(chatID, 10) + "/messages/" + strconv.FormatInt(ordinal, 10))
	if err := s.connector.do(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return platform.MessageInfo{}, err
	}
	return dto.info(), nil
}

func (s *session) Download(ctx context.Context, fileID string, dir string) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	err := s.connector.do(ctx, http.MethodPost, s.path("/download"), map[string]any{
		"file_id": fileID,
		"dir":     dir,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Path, nil
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.connector.do(ctx, http.MethodDelete, s.path(""), nil, nil)
}

// historyIterator pages a chat's history newest first, keyed by the lowest
// ordinal seen so far.
type historyIterator struct {
	session *session
	chatID  int64
	buf     []messageDTO
	before  int64
	done    bool
}

func (it *historyIterator) Next(ctx context.Context) (platform.MessageInfo, error) {
	if len(it.buf) == 0 {
		if it.done {
			return platform.MessageInfo{}, platform.Done
		}
		if err := it.fill(ctx); err != nil {
			return platform.MessageInfo{}, err
		}
		if len(it.buf) == 0 {
			return platform.MessageInfo{}, platform.Done
		}
	}

	dto := it.buf[0]
	it.buf = it.buf[1:]
	it.before = dto.Ordinal
	return dto.info(), nil
}

func (it *historyIterator) fill(ctx context.Context) error {
	var resp struct {
		Messages []messageDTO `json:"messages"`
	}
	path := it.session.path("/chats/" + strconv.FormatInt(it.chatID, 10) + "/history?limit=" + strconv.Itoa(historyPageSize))
	if it.before > 0 {
		path += "&before=" + strconv.FormatInt(it.before, 10)
	}
	if err := it.session.connector.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	it.buf = resp.Messages
	it.done = len(resp.Messages) < historyPageSize
	return nil
}

// memberIterator pages a chat's member list by offset.
type memberIterator struct {
	session *session
	chatID  int64
	buf     []userDTO
	offset  int
	done    bool
}

func (it *memberIterator) Next(ctx context.Context) (platform.UserInfo, error) {
	if len(it.buf) == 0 {
		if it.done {
			return platform.UserInfo{}, platform.Done
		}
		if err := it.fill(ctx); err != nil {
			return platform.UserInfo{}, err
		}
		if len(it.buf) == 0 {
			return platform.UserInfo{}, platform.Done
		}
	}

	dto := it.buf[0]
	it.buf = it.buf[1:]
	it.offset++
	return dto.info(), nil
}

func (it *memberIterator) fill(ctx context.Context) error {
	var resp struct {
		Users []userDTO `json:"users"`
	}
	path := it.session.path("/chats/" + strconv.FormatInt(it.chatID, 10) +
		"/members?limit=" + strconv.Itoa(memberPageSize) + "&offset=" + strconv.Itoa(it.offset))
	if err := it.session.connector.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	it.buf = resp.Users
	it.done = len(resp.Users) < memberPageSize
	return nil
}
