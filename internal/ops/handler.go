package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"puddlebot/internal/notifier"
	"puddlebot/internal/runtime/supervisor"
	"puddlebot/internal/task/scheduler"
	"puddlebot/internal/tracker"
	logx "puddlebot/pkg/logx"
)

type TrackerView interface {
	State() tracker.CycleState
	LastSummary() (tracker.CycleSummary, bool)
}

type ScheduleView interface {
	Snapshot() scheduler.Snapshot
}

type QueueView interface {
	Stats() notifier.Stats
}

type RuntimeView interface {
	Snapshot() supervisor.Snapshot
}

type HealthChecker interface {
	Health(ctx context.Context) bool
}

// Sources feed /status. Any of them may be nil.
type Sources struct {
	Tracker   TrackerView
	Scheduler ScheduleView
	Notifier  QueueView
	Runtime   RuntimeView
	Upstream  HealthChecker
	Started   time.Time
}

type Status struct {
	Time            time.Time             `json:"time"`
	Uptime          string                `json:"uptime,omitempty"`
	State           string                `json:"state"`
	LastCycle       *tracker.CycleSummary `json:"last_cycle,omitempty"`
	Scheduler       *scheduler.Snapshot   `json:"scheduler,omitempty"`
	Notifier        *notifier.Stats       `json:"notifier,omitempty"`
	Runtime         *supervisor.Snapshot  `json:"runtime,omitempty"`
	UpstreamHealthy *bool                 `json:"upstream_healthy,omitempty"`
}

const upstreamCheckTimeout = 3 * time.Second

// BuildStatus collects the current status.
func BuildStatus(ctx context.Context, src Sources) Status {
	st := Status{Time: time.Now(), State: "unknown"}
	if !src.Started.IsZero() {
		st.Uptime = time.Since(src.Started).Truncate(time.Second).String()
	}
	if src.Tracker != nil {
		st.State = src.Tracker.State().String()
		if sum, ok := src.Tracker.LastSummary(); ok {
			st.LastCycle = &sum
		}
	}
	if src.Scheduler != nil {
		snap := src.Scheduler.Snapshot()
		st.Scheduler = &snap
	}
	if src.Notifier != nil {
		ns := src.Notifier.Stats()
		st.Notifier = &ns
	}
	if src.Runtime != nil {
		rs := src.Runtime.Snapshot()
		st.Runtime = &rs
	}
	if src.Upstream != nil {
		pctx, cancel := context.WithTimeout(ctx, upstreamCheckTimeout)
		ok := src.Upstream.Health(pctx)
		cancel()
		st.UpstreamHealthy = &ok
	}
	return st
}

// Handler builds the ops router.
func Handler(cfg Config, src Sources, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, BuildStatus(req.Context(), src))
		})
		if cfg.Pprof {
			r.HandleFunc("/debug/pprof/", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
			r.Handle("/debug/pprof/{profile}", http.HandlerFunc(hpprof.Index))
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// bearerAuth requires "Authorization: Bearer <token>". Query-string tokens
// are not accepted since they end up in access logs. An empty token
// disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
