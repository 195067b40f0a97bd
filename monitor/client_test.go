package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func graphqlClient(url string) *Client {
	c := NewClient()
	c.GraphQLURL = url
	c.HTTPTimeout = 5 * time.Second
	return c
}

func TestQuestionStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Variables["titleSlug"] != "two-sum" {
			t.Errorf("expected titleSlug=two-sum, got %q", req.Variables["titleSlug"])
		}
		if !strings.Contains(req.Query, "question(titleSlug: $titleSlug)") {
			t.Errorf("unexpected query: %q", req.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"question":{"stats":"{\"totalAcceptedRaw\":12345,\"totalSubmissionRaw\":67890}"}}}`)
	}))
	defer srv.Close()

	st, err := graphqlClient(srv.URL).QuestionStats(context.Background(), "two-sum")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalAccepted != 12345 {
		t.Fatalf("expected 12345 accepted, got %d", st.TotalAccepted)
	}
	if st.TotalSubmission != 67890 {
		t.Fatalf("expected 67890 submissions, got %d", st.TotalSubmission)
	}
}

func TestQuestionStats_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := graphqlClient(srv.URL).QuestionStats(context.Background(), "two-sum"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestQuestionStats_NullQuestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"question":null}}`)
	}))
	defer srv.Close()

	if _, err := graphqlClient(srv.URL).QuestionStats(context.Background(), "no-such-slug"); err == nil {
		t.Fatal("expected error for null question")
	}
}

func TestQuestionStats_MalformedEmbeddedStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"question":{"stats":"not json"}}}`)
	}))
	defer srv.Close()

	if _, err := graphqlClient(srv.URL).QuestionStats(context.Background(), "two-sum"); err == nil {
		t.Fatal("expected error for malformed embedded stats")
	}
}

func TestStudyPlanSlugs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Referer"); got != "https://leetcode.com/studyplan/leetcode-75/" {
			t.Errorf("unexpected referer: %q", got)
		}
		fmt.Fprint(w, `{"data":{"studyPlanV2Detail":{"planSubGroups":[
			{"questions":[{"titleSlug":"merge-strings-alternately"},{"titleSlug":"greatest-common-divisor-of-strings"}]},
			{"questions":[{"titleSlug":"move-zeroes"}]}
		]}}}`)
	}))
	defer srv.Close()

	slugs, err := graphqlClient(srv.URL).StudyPlanSlugs(context.Background(), "leetcode-75")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"merge-strings-alternately", "greatest-common-divisor-of-strings", "move-zeroes"}
	if len(slugs) != len(want) {
		t.Fatalf("expected %d slugs, got %d", len(want), len(slugs))
	}
	for i := range want {
		if slugs[i] != want[i] {
			t.Fatalf("expected slug %d to be %q, got %q", i, want[i], slugs[i])
		}
	}
}

func TestStudyPlanSlugs_NullPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"studyPlanV2Detail":null}}`)
	}))
	defer srv.Close()

	if _, err := graphqlClient(srv.URL).StudyPlanSlugs(context.Background(), "no-such-plan"); err == nil {
		t.Fatal("expected error for null study plan")
	}
}

func socketClient(httpURL string) *Client {
	c := NewClient()
	c.SocketBase = "ws" + strings.TrimPrefix(httpURL, "http")
	c.SocketTimeout = 5 * time.Second
	c.Backoff = func(int) time.Duration { return 0 }
	return c
}

func TestOnlineUsers_RetriesThenSucceeds(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte("42")); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer srv.Close()

	n, err := socketClient(srv.URL).OnlineUsers(context.Background(), "two-sum")
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("expected 42 users, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected exactly 3 connection attempts, got %d", attempts)
	}
}

func TestOnlineUsers_ForbiddenDiagnostic(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := socketClient(srv.URL).OnlineUsers(context.Background(), "two-sum")
	if err == nil {
		t.Fatal("expected error for forbidden handshake")
	}
	if !strings.Contains(err.Error(), "Cloudflare blocked the request") {
		t.Fatalf("expected Cloudflare diagnostic, got: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected retries to exhaust 3 attempts, got %d", attempts)
	}
}

func TestOnlineUsers_NonIntegerMessage(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer srv.Close()

	_, err := socketClient(srv.URL).OnlineUsers(context.Background(), "two-sum")
	if err == nil {
		t.Fatal("expected error for non-integer message")
	}
	if !strings.Contains(err.Error(), "unexpected message") {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected a single connection attempt for a non-integer reply, got %d", attempts)
	}
}
