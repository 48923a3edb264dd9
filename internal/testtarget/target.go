// Package testtarget is a small fantasy-league API used as the system
// under test in examples, integration tests and local load runs.
package testtarget

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config shapes the behaviour of the target.
type Config struct {
	// Latency is added to every /api response
	Latency time.Duration

	// Jitter adds a random delay in [0, Jitter) on top of Latency
	Jitter time.Duration

	// FailEvery makes every Nth /api request answer 503 (0 disables)
	FailEvery int64
}

// Team is a league team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// User is a league player.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Game is a scheduled or completed match.
type Game struct {
	ID         string `json:"id"`
	Week       int    `json:"week"`
	HomeTeamID string `json:"homeTeamId"`
	AwayTeamID string `json:"awayTeamId"`
	Status     string `json:"status"`
	HomeScore  int    `json:"homeScore"`
	AwayScore  int    `json:"awayScore"`
}

// Standing is one leaderboard row.
type Standing struct {
	UserID       string  `json:"userId"`
	Rank         int     `json:"rank"`
	CorrectPicks int     `json:"correctPicks"`
	TotalPicks   int     `json:"totalPicks"`
	Percentage   float64 `json:"percentage"`
}

var (
	teams = []Team{
		{ID: "t1", Name: "Lions", City: "Detroit"},
		{ID: "t2", Name: "Tigers", City: "Cincinnati"},
		{ID: "t3", Name: "Eagles", City: "Philadelphia"},
		{ID: "t4", Name: "Ravens", City: "Baltimore"},
	}
	users = []User{
		{ID: "u1", Username: "ana"},
		{ID: "u2", Username: "ben"},
		{ID: "u3", Username: "chloe"},
	}
	games = []Game{
		{ID: "g1", Week: 1, HomeTeamID: "t1", AwayTeamID: "t2", Status: "completed", HomeScore: 24, AwayScore: 17},
		{ID: "g2", Week: 1, HomeTeamID: "t3", AwayTeamID: "t4", Status: "completed", HomeScore: 10, AwayScore: 13},
		{ID: "g3", Week: 2, HomeTeamID: "t2", AwayTeamID: "t3", Status: "scheduled"},
	}
	standings = []Standing{
		{UserID: "u2", Rank: 1, CorrectPicks: 2, TotalPicks: 2, Percentage: 100},
		{UserID: "u1", Rank: 2, CorrectPicks: 1, TotalPicks: 2, Percentage: 50},
		{UserID: "u3", Rank: 3, CorrectPicks: 0, TotalPicks: 1, Percentage: 0},
	}
)

// Target serves the API. It is safe for concurrent use.
type Target struct {
	cfg    Config
	logger *zap.Logger
	mux    *http.ServeMux

	healthy  atomic.Bool
	requests atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a healthy target.
func New(cfg Config, logger *zap.Logger) *Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Target{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.healthy.Store(true)

	t.mux.HandleFunc("GET /health", t.health)
	t.mux.Handle("GET /api/teams", t.api(map[string]any{"teams": teams, "total": len(teams)}))
	t.mux.Handle("GET /api/users", t.api(map[string]any{"users": users, "total": len(users)}))
	t.mux.Handle("GET /api/games", t.api(map[string]any{"games": games, "total": len(games)}))
	t.mux.Handle("GET /api/leaderboard", t.api(map[string]any{"leaderboard": standings, "totalUsers": len(users)}))
	return t
}

// SetHealthy switches the /health answer between 200 and 503.
func (t *Target) SetHealthy(ok bool) {
	t.healthy.Store(ok)
}

// Requests returns the number of /api requests served.
func (t *Target) Requests() int64 {
	return t.requests.Load()
}

// ServeHTTP implements http.Handler.
func (t *Target) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mux.ServeHTTP(w, r)
}

func (t *Target) health(w http.ResponseWriter, _ *http.Request) {
	if !t.healthy.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (t *Target) api(payload any) http.Handler {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := t.requests.Add(1)

		if d := t.delay(); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}

		if t.cfg.FailEvery > 0 && n%t.cfg.FailEvery == 0 {
			t.logger.Debug("injected failure", zap.String("path", r.URL.Path), zap.Int64("request", n))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

func (t *Target) delay() time.Duration {
	d := t.cfg.Latency
	if t.cfg.Jitter > 0 {
		t.rngMu.Lock()
		d += time.Duration(t.rng.Int63n(int64(t.cfg.Jitter)))
		t.rngMu.Unlock()
	}
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
