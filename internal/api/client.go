// Package api implements the HTTP collaborators the engine consumes:
// history fetch, file upload with progress, and profile lookup.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"chatsync/internal/domain"
)

// Client talks to the relay's REST surface. It satisfies
// domain.HistoryFetcher, domain.Uploader, and domain.ProfileSource.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// FetchHistory loads the stored transcript for the conversation's channel
// in chronological order.
func (c *Client) FetchHistory(ctx context.Context, conv domain.ConversationContext) ([]domain.Event, error) {
	path := "/api/history?channel=" + url.QueryEscape(conv.CounterpartID())
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHistoryFetchFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHistoryFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrHistoryFetchFailed, resp.StatusCode)
	}

	var items []domain.Event
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrHistoryFetchFailed, err)
	}
	return items, nil
}

// progressReader reports read progress as a percentage of the total size.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.progress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		p.progress(pct)
	}
	return n, err
}

// Upload posts the file as multipart form data and returns the attachment
// metadata to reference from the text channel.
func (c *Client) Upload(ctx context.Context, f domain.File, target domain.ConversationTarget, tags []string, progress func(pct int)) (*domain.FileAttachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	if _, err := io.Copy(part, f.Reader); err != nil {
		return nil, fmt.Errorf("%w: reading file: %v", domain.ErrUploadFailed, err)
	}
	mw.WriteField("channel", target.ChannelID())
	for _, tag := range tags {
		mw.WriteField("tags", tag)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	body := &progressReader{r: &buf, total: int64(buf.Len()), progress: progress}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrUploadFailed, resp.StatusCode)
	}

	var att domain.FileAttachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrUploadFailed, err)
	}
	return &att, nil
}

// LocalProfile fetches the local party's cached profile.
func (c *Client) LocalProfile(ctx context.Context) (domain.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/profile", nil)
	if err != nil {
		return domain.Profile{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Profile{}, fmt.Errorf("fetching profile: unexpected status %d", resp.StatusCode)
	}

	var p domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.Profile{}, fmt.Errorf("decoding profile: %w", err)
	}
	return p, nil
}
