// Package client is the engine's HTTP client for the contest authority. It
// satisfies the Authority, Refresher and Searcher ports of the engine
// packages and maps wire error codes back to the authority sentinels, so
// engine code branches with errors.Is regardless of transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/authority/authhttp"
	"github.com/quizrun/quizrun/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client talks to one authority server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the authority at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// StartRun implements the session Authority port.
func (c *Client) StartRun(ctx context.Context, req authority.StartRequest) (*authority.StartReply, error) {
	var reply authority.StartReply
	if err := c.post(ctx, "/v1/runs/start", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SubmitAnswers implements the session Authority port.
func (c *Client) SubmitAnswers(ctx context.Context, req authority.SubmitRequest) (*authority.SubmitReply, error) {
	var reply authority.SubmitReply
	if err := c.post(ctx, "/v1/runs/submit", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// LeaderboardPage implements the syncer Refresher port.
func (c *Client) LeaderboardPage(ctx context.Context, partition models.Partition, pageSize, offset int) (*models.LeaderboardPage, error) {
	query := url.Values{
		"partition": {string(partition)},
		"limit":     {strconv.Itoa(pageSize)},
		"offset":    {strconv.Itoa(offset)},
	}
	var page models.LeaderboardPage
	if err := c.get(ctx, "/v1/leaderboard?"+query.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// RankOf implements the syncer Refresher port.
func (c *Client) RankOf(ctx context.Context, runID uuid.UUID) (int, error) {
	var reply struct {
		Rank int `json:"rank"`
	}
	if err := c.get(ctx, "/v1/rank?run_id="+runID.String(), &reply); err != nil {
		return 0, err
	}
	return reply.Rank, nil
}

// Search implements the locator Searcher port.
func (c *Client) Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error) {
	values := url.Values{
		"partition": {string(partition)},
		"q":         {query},
		"limit":     {strconv.Itoa(limit)},
		"offset":    {strconv.Itoa(offset)},
	}
	var reply struct {
		Entries []models.RankedEntry `json:"entries"`
	}
	if err := c.get(ctx, "/v1/search?"+values.Encode(), &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

// RuntimeFlags fetches a partition's open/close state.
func (c *Client) RuntimeFlags(ctx context.Context, partition models.Partition) (models.RuntimeFlags, error) {
	var flags models.RuntimeFlags
	err := c.get(ctx, "/v1/flags?partition="+string(partition), &flags)
	return flags, err
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(raw), out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport failure, not a verdict. The engine treats it as retryable.
		return fmt.Errorf("%w: %v", authority.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeErrorBody(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", authority.ErrUnavailable, err)
	}
	return nil
}

// decodeErrorBody turns a wire error code back into the matching sentinel.
// Unknown codes and unparseable bodies degrade to ErrUnavailable so the
// engine never mistakes them for a verdict.
func decodeErrorBody(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body authhttp.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("%w: status %d", authority.ErrUnavailable, resp.StatusCode)
	}

	var sentinel error
	switch body.Code {
	case authhttp.CodeUsernameRequired:
		sentinel = authority.ErrNameRequired
	case authhttp.CodeReclaimRequired:
		sentinel = authority.ErrReclaimRequired
	case authhttp.CodeReclaimInvalid:
		sentinel = authority.ErrReclaimInvalid
	case authhttp.CodeRateLimit:
		sentinel = authority.ErrRateLimited
	case authhttp.CodeContestClosed:
		sentinel = authority.ErrContestClosed
	case authhttp.CodeRunNotFound:
		sentinel = authority.ErrRunNotFound
	case authhttp.CodeRunFinished:
		sentinel = authority.ErrRunFinished
	case authhttp.CodeNoAnswers:
		sentinel = authority.ErrNoAnswers
	case authhttp.CodeAdminForbidden:
		sentinel = authority.ErrAdminForbidden
	default:
		return fmt.Errorf("%w: status %d code %s", authority.ErrUnavailable, resp.StatusCode, body.Code)
	}
	if body.Message != "" && body.Message != sentinel.Error() {
		return fmt.Errorf("%w: %s", sentinel, body.Message)
	}
	return sentinel
}
