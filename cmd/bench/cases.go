// README: Bench cases covering the ride lifecycle, authorization, concurrent accept, DB consistency, and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rideshare/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *infra.JWTVerifier
	run    string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

type rideView struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	DriverID *string `json:"driver_id"`
	Version  int64   `json:"version"`
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
	if cfg.JWTSecret != "" {
		r.tokens = infra.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "Apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "Tables named in the migration exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "API: health",
			Focus: "API answers and its store is ready",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				status, _, err := r.call(ctx, http.MethodGet, "/health", "", nil, nil)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return expect(status, http.StatusOK, time.Since(start))
			},
		},
		{
			Name:  "API: missing token -> 401",
			Focus: "Ride routes require a bearer token",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.call(ctx, http.MethodGet, "/api/v1/rides/history", "", nil, nil)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return expect(status, http.StatusUnauthorized, 0)
			},
		},
		authCase("Ride: full lifecycle", lifecycle),
		authCase("Ride: missing dropoff -> 400", func(ctx context.Context, r *Runner) Result {
			status, _, err := r.call(ctx, http.MethodPost, "/api/v1/rides/request", r.token("rider-1", "rider"),
				map[string]any{"pickup": map[string]any{"address": "A"}}, nil)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return expect(status, http.StatusBadRequest, 0)
		}),
		authCase("Ride: rider cannot accept -> 403", func(ctx context.Context, r *Runner) Result {
			ride, res := r.requestRide(ctx, "rider-2")
			if ride == nil {
				return res
			}
			status, _, err := r.call(ctx, http.MethodPatch, "/api/v1/rides/"+ride.ID+"/accept", r.token("rider-2", "rider"), nil, nil)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return expect(status, http.StatusForbidden, 0)
		}),
		authCase("Ride: double cancel -> 409", func(ctx context.Context, r *Runner) Result {
			ride, res := r.requestRide(ctx, "rider-3")
			if ride == nil {
				return res
			}
			path := "/api/v1/rides/" + ride.ID + "/cancel"
			if status, _, err := r.call(ctx, http.MethodPatch, path, r.token("rider-3", "rider"), nil, nil); err != nil || status != http.StatusOK {
				return Result{Status: statusFail, Note: fmt.Sprintf("first cancel status=%d err=%v", status, err)}
			}
			status, _, err := r.call(ctx, http.MethodPatch, path, r.token("rider-3", "rider"), nil, nil)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return expect(status, http.StatusConflict, 0)
		}),
		authCase("Concurrency: many drivers accept one ride", concurrentAccept),
		authCase("Concurrency: cancel vs accept", cancelVsAccept),
		authCase("Perf: request ride throughput", perfRequest),
	}
}

func authCase(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Ride API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.tokens == nil {
				return Result{Status: statusSkip, Note: "jwt-secret not set"}
			}
			return run(ctx, r)
		},
	}
}

func lifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	ride, res := r.requestRide(ctx, "rider-lc")
	if ride == nil {
		return res
	}
	driver := r.token("driver-lc", "driver")
	steps := []struct {
		path string
		body any
		want string
	}{
		{"/accept", nil, "accepted"},
		{"/start", nil, "in_progress"},
		{"/complete", map[string]any{"fare": 18.5}, "completed"},
	}
	for _, step := range steps {
		var out rideView
		status, _, err := r.call(ctx, http.MethodPatch, "/api/v1/rides/"+ride.ID+step.path, driver, step.body, &out)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if status != http.StatusOK || out.Status != step.want {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s: status=%d ride=%s", step.path, status, out.Status)}
		}
	}
	status, _, err := r.call(ctx, http.MethodPatch, "/api/v1/rides/"+ride.ID+"/cancel", r.token("rider-lc", "rider"), nil, nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != http.StatusConflict {
		return Result{Status: statusFail, Note: fmt.Sprintf("cancel after complete status=%d", status)}
	}
	if note := r.auditMatches(ctx, ride.ID, 4); note != "" {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	ride, res := r.requestRide(ctx, "rider-race")
	if ride == nil {
		return res
	}
	path := "/api/v1/rides/" + ride.ID + "/accept"

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		other     []int
	)
	start := make(chan struct{})
	for i := 0; i < r.cfg.Concurrency; i++ {
		token := r.token(fmt.Sprintf("driver-race-%d", i), "driver")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, _, err := r.call(ctx, http.MethodPatch, path, token, nil, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, -1)
			case status == http.StatusOK:
				succ++
			case status == http.StatusConflict:
				conflicts++
			default:
				other = append(other, status)
			}
		}()
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%v", succ, conflicts, other)
	if succ != 1 || len(other) > 0 {
		return Result{Status: statusFail, Note: note}
	}
	if audit := r.auditMatches(ctx, ride.ID, 2); audit != "" {
		return Result{Status: statusFail, Note: audit}
	}
	return Result{Status: statusPass, Note: note}
}

func cancelVsAccept(ctx context.Context, r *Runner) Result {
	ride, res := r.requestRide(ctx, "rider-cva")
	if ride == nil {
		return res
	}
	base := "/api/v1/rides/" + ride.ID
	calls := []struct {
		path  string
		token string
	}{
		{base + "/accept", r.token("driver-cva", "driver")},
		{base + "/cancel", r.token("rider-cva", "rider")},
	}

	statuses := make([]int, len(calls))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, c := range calls {
		wg.Add(1)
		go func(i int, path, token string) {
			defer wg.Done()
			<-start
			statuses[i], _, _ = r.call(ctx, http.MethodPatch, path, token, nil, nil)
		}(i, c.path, c.token)
	}
	close(start)
	wg.Wait()

	var final rideView
	if _, _, err := r.call(ctx, http.MethodGet, base, r.token("rider-cva", "rider"), nil, &final); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("accept=%d cancel=%d final=%s", statuses[0], statuses[1], final.Status)
	switch {
	case statuses[1] == http.StatusOK && final.Status == "cancelled":
	case statuses[1] == http.StatusConflict && statuses[0] == http.StatusOK && final.Status == "accepted":
	default:
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func perfRequest(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count    int64
		errCount int64
		mu       sync.Mutex
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		token := r.token(fmt.Sprintf("rider-perf-%d", i), "rider")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, err := r.call(ctx, http.MethodPost, "/api/v1/rides/request", token, tripBody(), nil)
				mu.Lock()
				if err != nil || status != http.StatusCreated {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

// auditMatches checks the event trail against the ride version when a DB is configured.
func (r *Runner) auditMatches(ctx context.Context, rideID string, want int64) string {
	if r.db == nil {
		return ""
	}
	var events, version int64
	err := r.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM ride_state_events WHERE ride_id = $1), version
		FROM rides WHERE id = $1`, rideID).Scan(&events, &version)
	if err != nil {
		return "audit query: " + err.Error()
	}
	if events != version || version != want {
		return fmt.Sprintf("audit rows=%d version=%d want=%d", events, version, want)
	}
	return ""
}

func (r *Runner) requestRide(ctx context.Context, rider string) (*rideView, Result) {
	var out rideView
	status, _, err := r.call(ctx, http.MethodPost, "/api/v1/rides/request", r.token(rider, "rider"), tripBody(), &out)
	if err != nil {
		return nil, Result{Status: statusFail, Note: err.Error()}
	}
	if status != http.StatusCreated || out.ID == "" {
		return nil, Result{Status: statusFail, Note: fmt.Sprintf("request status=%d", status)}
	}
	return &out, Result{}
}

func (r *Runner) token(subject, role string) string {
	tok, err := r.tokens.Issue(subject+"-"+r.run, role, time.Hour)
	if err != nil {
		panic(err)
	}
	return tok
}

func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, err
		}
	}
	return resp.StatusCode, raw, nil
}

func tripBody() map[string]any {
	return map[string]any{
		"pickup":  map[string]any{"address": "Taipei 101", "point": map[string]any{"lat": 25.033, "lng": 121.565}},
		"dropoff": map[string]any{"address": "Taipei Main Station", "point": map[string]any{"lat": 25.0478, "lng": 121.5318}},
	}
}

func expect(got, want int, latency time.Duration) Result {
	note := fmt.Sprintf("status=%d", got)
	if got != want {
		return Result{Status: statusFail, Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
