package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Client talks to the playback server on behalf of a remote decode host.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// stream has no overall timeout; the command stream stays open.
	stream *http.Client
}

// NewClient creates a client with connection pooling.
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		stream: &http.Client{Transport: transport},
	}
}

// Event is one Server-Sent Event from the host command stream.
type Event struct {
	Name string
	Data []byte
}

// Stream opens the host command stream and delivers events on the returned
// channel until ctx is cancelled or the server closes the stream. The error
// channel receives at most one value when the stream ends.
func (c *Client) Stream(ctx context.Context) (<-chan Event, <-chan error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sse/host", nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("open stream: HTTP %d: %s", resp.StatusCode, body)
	}

	events := make(chan Event, 64)
	errc := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		defer close(events)
		errc <- readEvents(ctx, bufio.NewReader(resp.Body), events)
	}()
	return events, errc, nil
}

// readEvents parses the event stream. Comment lines (heartbeats) are skipped.
func readEvents(ctx context.Context, r *bufio.Reader, out chan<- Event) error {
	var ev Event
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = append(ev.Data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		case line == "" && ev.Name != "":
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			ev = Event{}
		}
	}
}

// DecoderCreated completes a decoder creation token. It reports whether
// the engine still had a session waiting on the token.
func (c *Client) DecoderCreated(ctx context.Context, tok model.Token, id model.DecoderID) (bool, error) {
	body, err := json.Marshal(map[string]model.DecoderID{"decoder_id": id})
	if err != nil {
		return false, err
	}
	return c.complete(ctx, http.MethodPost, fmt.Sprintf("/api/v1/tokens/%s/decoder", tok), body)
}

// Abandon tells the server the host will never complete tok.
func (c *Client) Abandon(ctx context.Context, tok model.Token) (bool, error) {
	return c.complete(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/tokens/%s", tok), nil)
}

func (c *Client) complete(ctx context.Context, method, path string, body []byte) (bool, error) {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return false, err
	}
	var out struct {
		Accepted bool `json:"accepted"`
	}
	if err := decodeResponseData(resp, &out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

// doRequest executes an HTTP request and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	return resp, nil
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}
