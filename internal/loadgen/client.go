// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrModifierRejected is returned when the service answers a modifier request
// with 422. The service does this when the modifier is already applied or the
// caller cannot afford it; the workload treats it as a normal outcome.
var ErrModifierRejected = errors.New("modifier rejected by the service")

// Client issues the three pipe operations against one service endpoint with
// one bearer token. Both are fixed for the client's lifetime.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient builds a client for the service at serverAddr (host:port).
// A zero timeout means requests block until the service answers.
func NewClient(serverAddr, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: BaseURL(serverAddr),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Collect drains the accumulated value of a pipe and returns it.
func (c *Client) Collect(ctx context.Context, pipe int) (int64, error) {
	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/pipe/%d", c.baseURL, pipe), nil)
	if err != nil {
		return 0, errors.Wrapf(err, "collect pipe %d", pipe)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("collect pipe %d: unexpected status %d: %s", pipe, resp.StatusCode, readErrorBody(resp.Body))
	}
	return decodeScore(resp.Body)
}

// Value reads the current value of a pipe without draining it.
func (c *Client) Value(ctx context.Context, pipe int) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/pipe/%d/value", c.baseURL, pipe), nil)
	if err != nil {
		return 0, errors.Wrapf(err, "read pipe %d value", pipe)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("read pipe %d value: unexpected status %d: %s", pipe, resp.StatusCode, readErrorBody(resp.Body))
	}
	return decodeScore(resp.Body)
}

// ApplyModifier attaches a modifier to a pipe. A 422 answer comes back as
// ErrModifierRejected; every other non-200 status is an ordinary error.
func (c *Client) ApplyModifier(ctx context.Context, pipe int, modifier string) error {
	body, err := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: modifier})
	if err != nil {
		return errors.Wrap(err, "encode modifier request")
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/pipe/%d/modifier", c.baseURL, pipe), body)
	if err != nil {
		return errors.Wrapf(err, "apply modifier %s to pipe %d", modifier, pipe)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnprocessableEntity:
		return ErrModifierRejected
	default:
		return errors.Errorf("apply modifier %s to pipe %d: unexpected status %d: %s", modifier, pipe, resp.StatusCode, readErrorBody(resp.Body))
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

func decodeScore(r io.Reader) (int64, error) {
	var score int64
	if err := json.NewDecoder(r).Decode(&score); err != nil {
		return 0, errors.Wrap(err, "decode score")
	}
	return score, nil
}

// readErrorBody pulls the service's error payload into a diagnostic. Bodies
// are tiny ({"error": "..."}), but cap the read anyway.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "<no body>"
	}
	return string(bytes.TrimSpace(b))
}
