package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultGraphQLURL = "https://leetcode.com/graphql"
	defaultSocketBase = "wss://collaboration-ws.leetcode.com/problems"

	graphqlUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"
	socketUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

const questionStatsQuery = `query questionTitle($titleSlug: String!) {
  question(titleSlug: $titleSlug) {
    stats
  }
}`

const studyPlanQuery = `query studyPlanV2Detail($slug: String!) {
  studyPlanV2Detail(planSlug: $slug) {
    planSubGroups {
      questions {
        titleSlug
      }
    }
  }
}`

// QuestionStats holds the lifetime submission counters of one problem.
type QuestionStats struct {
	TotalAccepted   int64
	TotalSubmission int64
}

// StatsSource is the remote capability the collector runs against. The
// concrete implementation is Client; tests substitute a fake.
type StatsSource interface {
	QuestionStats(ctx context.Context, slug string) (QuestionStats, error)
	OnlineUsers(ctx context.Context, slug string) (int, error)
}

// Client fetches per-problem statistics from LeetCode: submission counters
// over the public GraphQL endpoint and, for the deprecated live-viewer
// path, a first-frame read from the collaboration WebSocket.
type Client struct {
	GraphQLURL string
	SocketBase string

	HTTPTimeout   time.Duration
	SocketTimeout time.Duration

	// Retries is the total number of connection attempts for OnlineUsers.
	Retries int
	// Backoff returns the sleep before retry attempt n (1-based). Nil uses
	// exponential backoff with jitter.
	Backoff func(attempt int) time.Duration
}

func NewClient() *Client {
	return &Client{
		GraphQLURL:    defaultGraphQLURL,
		SocketBase:    defaultSocketBase,
		HTTPTimeout:   10 * time.Second,
		SocketTimeout: 15 * time.Second,
		Retries:       3,
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func (c *Client) postGraphQL(ctx context.Context, query string, variables map[string]any, extraHeaders map[string]string, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", graphqlUserAgent)
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: c.HTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected graphql status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	return nil
}

// QuestionStats fetches the lifetime accepted/submission counters for one
// problem. The endpoint returns the counters as a JSON document embedded
// in a string field, so the payload is decoded twice.
func (c *Client) QuestionStats(ctx context.Context, slug string) (QuestionStats, error) {
	var payload struct {
		Data struct {
			Question *struct {
				Stats string `json:"stats"`
			} `json:"question"`
		} `json:"data"`
	}
	err := c.postGraphQL(ctx, questionStatsQuery, map[string]any{"titleSlug": slug}, nil, &payload)
	if err != nil {
		return QuestionStats{}, err
	}
	if payload.Data.Question == nil {
		return QuestionStats{}, fmt.Errorf("no question data for %q", slug)
	}
	var raw struct {
		TotalAcceptedRaw   int64 `json:"totalAcceptedRaw"`
		TotalSubmissionRaw int64 `json:"totalSubmissionRaw"`
	}
	if err := json.Unmarshal([]byte(payload.Data.Question.Stats), &raw); err != nil {
		return QuestionStats{}, fmt.Errorf("decode stats for %q: %w", slug, err)
	}
	return QuestionStats{TotalAccepted: raw.TotalAcceptedRaw, TotalSubmission: raw.TotalSubmissionRaw}, nil
}

// StudyPlanSlugs fetches the problem slugs of a study plan (e.g.
// "leetcode-75") in plan order.
func (c *Client) StudyPlanSlugs(ctx context.Context, planSlug string) ([]string, error) {
	var payload struct {
		Data struct {
			StudyPlanV2Detail *struct {
				PlanSubGroups []struct {
					Questions []struct {
						TitleSlug string `json:"titleSlug"`
					} `json:"questions"`
				} `json:"planSubGroups"`
			} `json:"studyPlanV2Detail"`
		} `json:"data"`
	}
	headers := map[string]string{
		"Referer": "https://leetcode.com/studyplan/" + planSlug + "/",
	}
	if err := c.postGraphQL(ctx, studyPlanQuery, map[string]any{"slug": planSlug}, headers, &payload); err != nil {
		return nil, err
	}
	if payload.Data.StudyPlanV2Detail == nil {
		return nil, fmt.Errorf("no study plan data for %q", planSlug)
	}
	var slugs []string
	for _, group := range payload.Data.StudyPlanV2Detail.PlanSubGroups {
		for _, q := range group.Questions {
			if q.TitleSlug == "" {
				continue
			}
			slugs = append(slugs, q.TitleSlug)
		}
	}
	return slugs, nil
}

// OnlineUsers reports how many people are currently viewing a problem.
// The collaboration endpoint pushes the count as the first text frame
// after the handshake.
//
// Deprecated: the endpoint is frequently blocked by Cloudflare (403) from
// datacenter addresses. Kept for the users collection mode.
func (c *Client) OnlineUsers(ctx context.Context, slug string) (int, error) {
	endpoint := c.SocketBase + "/" + slug

	retries := c.Retries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			delay := defaultBackoff(attempt)
			if c.Backoff != nil {
				delay = c.Backoff(attempt)
			}
			if err := sleepContext(ctx, delay); err != nil {
				return 0, err
			}
		}
		n, err := c.readUserCount(ctx, endpoint)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if errors.Is(err, errUnexpectedFrame) {
			break
		}
	}
	if strings.Contains(lastErr.Error(), "403") {
		return 0, fmt.Errorf("online users for %q: Cloudflare blocked the request (403 Forbidden): %w", slug, lastErr)
	}
	return 0, fmt.Errorf("online users for %q: %w", slug, lastErr)
}

// errUnexpectedFrame reports a first frame that is not a bare integer.
// Unlike dial and read failures it is not retried.
var errUnexpectedFrame = errors.New("unexpected message")

func (c *Client) readUserCount(ctx context.Context, endpoint string) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.SocketTimeout}
	header := http.Header{}
	header.Set("User-Agent", socketUserAgent)
	header.Set("Origin", "https://leetcode.com")

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return 0, fmt.Errorf("dial: %w (%s)", err, resp.Status)
		}
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(c.SocketTimeout)); err != nil {
		return 0, err
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(message)))
	if err != nil {
		return 0, fmt.Errorf("%w %q", errUnexpectedFrame, string(message))
	}
	return n, nil
}

// defaultBackoff spaces retry attempts 2s, 4s, ... apart with up to one
// extra second of jitter.
func defaultBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return base + jitter
}
