package monitor

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Mode selects which statistic a collection run gathers.
type Mode string

const (
	// ModeStats collects lifetime accepted/submission counters.
	ModeStats Mode = "stats"
	// ModeUsers collects live viewer counts over the collaboration socket.
	ModeUsers Mode = "users"
)

// Summary is the aggregated outcome of one collection run over one slug
// list. It maps onto a single CSV row.
type Summary struct {
	Timestamp        string
	LiveUsers        int64
	ProblemsChecked  int
	ProblemsFailed   int
	TotalProblems    int
	TotalAccepted    int64
	TotalSubmissions int64
}

// summaryFields is the sink column order, shared by both modes. Column 1
// carries the user count so older five-column logs stay readable by the
// same site parser.
var summaryFields = []string{
	"timestamp",
	"live_users",
	"problems_checked",
	"problems_failed",
	"total_problems",
	"total_accepted",
	"total_submissions",
}

func (s Summary) record() map[string]string {
	return map[string]string{
		"timestamp":         s.Timestamp,
		"live_users":        strconv.FormatInt(s.LiveUsers, 10),
		"problems_checked":  strconv.Itoa(s.ProblemsChecked),
		"problems_failed":   strconv.Itoa(s.ProblemsFailed),
		"total_problems":    strconv.Itoa(s.TotalProblems),
		"total_accepted":    strconv.FormatInt(s.TotalAccepted, 10),
		"total_submissions": strconv.FormatInt(s.TotalSubmissions, 10),
	}
}

// Collector walks a slug list sequentially and folds per-problem results
// into one Summary. Individual fetch failures are counted, never fatal.
type Collector struct {
	Source StatsSource
	Mode   Mode
	// Pace returns the politeness sleep before item i. It is not consulted
	// before the first item. Nil uses a random delay of 0.5s to 1.5s.
	Pace func(i int) time.Duration
}

// Collect fetches the configured statistic for every slug and returns the
// aggregate. The timestamp is taken when aggregation completes. An empty
// slug list yields an all-zero Summary. Cancellation takes effect between
// fetches; remaining slugs count as failed.
func (c *Collector) Collect(ctx context.Context, slugs []string) Summary {
	sum := Summary{TotalProblems: len(slugs)}
	for i, slug := range slugs {
		if i > 0 {
			if err := sleepContext(ctx, c.pace(i)); err != nil {
				sum.ProblemsFailed += len(slugs) - i
				log.WithError(err).Warn("Collection interrupted")
				break
			}
		}
		switch c.Mode {
		case ModeUsers:
			n, err := c.Source.OnlineUsers(ctx, slug)
			if err != nil {
				sum.ProblemsFailed++
				log.WithField("slug", slug).WithError(err).Warn("Fetch failed")
				continue
			}
			sum.LiveUsers += int64(n)
			sum.ProblemsChecked++
			log.WithFields(log.Fields{"slug": slug, "users": n}).Debug("Fetched")
		default:
			st, err := c.Source.QuestionStats(ctx, slug)
			if err != nil {
				sum.ProblemsFailed++
				log.WithField("slug", slug).WithError(err).Warn("Fetch failed")
				continue
			}
			sum.TotalAccepted += st.TotalAccepted
			sum.TotalSubmissions += st.TotalSubmission
			sum.ProblemsChecked++
			log.WithFields(log.Fields{"slug": slug, "accepted": st.TotalAccepted}).Debug("Fetched")
		}
	}
	sum.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return sum
}

func (c *Collector) pace(i int) time.Duration {
	if c.Pace != nil {
		return c.Pace(i)
	}
	return defaultPace(i)
}

func defaultPace(int) time.Duration {
	return 500*time.Millisecond + time.Duration(rand.Float64()*float64(time.Second))
}

type RunnerConfig struct {
	Indices []IndexConfig
	// OnlyIndex restricts the run to the index with this ID.
	OnlyIndex string
	Source    StatsSource
	// Pace overrides the politeness delay between fetches.
	Pace func(i int) time.Duration
	// FailFast returns the first index failure instead of logging it and
	// moving on. Set for single-target runs.
	FailFast bool
}

// Runner executes one collection pass over all configured indices,
// appending one summary row per index. A broken index never aborts its
// siblings unless FailFast is set.
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("Source is required")
	}
	return &Runner{cfg: cfg}, nil
}

func (r *Runner) RunOnce(ctx context.Context) error {
	if len(r.cfg.Indices) == 0 {
		log.Info("No indices configured")
		return nil
	}
	processed := 0
	for _, idx := range r.cfg.Indices {
		if r.cfg.OnlyIndex != "" && idx.ID != r.cfg.OnlyIndex {
			continue
		}
		processed++
		if err := r.collectIndex(ctx, idx); err != nil {
			if r.cfg.FailFast {
				return err
			}
			log.WithField("index", idx.ID).WithError(err).Error("Index collection failed")
		}
	}
	if r.cfg.OnlyIndex != "" && processed == 0 {
		log.WithField("index", r.cfg.OnlyIndex).Warn("No index with this ID in configuration")
	}
	return nil
}

func (r *Runner) collectIndex(ctx context.Context, idx IndexConfig) error {
	if idx.InputFile == "" || idx.OutputFile == "" {
		return fmt.Errorf("missing input_file or output_file")
	}
	slugs, err := ReadSlugs(idx.InputFile)
	if err != nil {
		return fmt.Errorf("read slug list: %w", err)
	}
	log.WithFields(log.Fields{"index": idx.ID, "problems": len(slugs)}).Info("Collecting")

	col := &Collector{Source: r.cfg.Source, Mode: idx.Mode, Pace: r.cfg.Pace}
	sum := col.Collect(ctx, slugs)

	if err := AppendRecord(idx.OutputFile, summaryFields, sum.record()); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	log.WithFields(log.Fields{
		"index":   idx.ID,
		"checked": sum.ProblemsChecked,
		"failed":  sum.ProblemsFailed,
		"total":   sum.TotalProblems,
	}).Info("Collection saved")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
