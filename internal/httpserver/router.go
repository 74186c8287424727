package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/authguard/internal/blockstore"
	"github.com/skywalker-88/authguard/internal/campaign"
	"github.com/skywalker-88/authguard/internal/enforce"
	"github.com/skywalker-88/authguard/internal/ingest"
	Lm "github.com/skywalker-88/authguard/internal/middleware"
	"github.com/skywalker-88/authguard/internal/processor"
	"github.com/skywalker-88/authguard/internal/rules"
	"github.com/skywalker-88/authguard/internal/settings"
	"github.com/skywalker-88/authguard/pkg/metrics"
)

// RouterDeps wires the collaborators the HTTP surface depends on.
type RouterDeps struct {
	Processor *processor.Processor
	Rules     *rules.Manager
	Blocks    *blockstore.Store
	Settings  *settings.Store
	Campaigns *campaign.Store
	Enforcer  *enforce.Bridge
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewRouter builds the Chi router: the ingest route is the hot path, the
// rest is the admin surface over the same collaborators the processor uses.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(Lm.AccessLoggerFromEnv())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if IsDraining() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/events/auth", handleIngest(d.Processor))

	r.Route("/rules", func(rt chi.Router) {
		rt.Get("/", handleRulesList(d.Rules))
		rt.Post("/{id}/enable", handleRuleEnable(d.Rules, true))
		rt.Post("/{id}/disable", handleRuleEnable(d.Rules, false))
		rt.Post("/{id}/threshold", handleRuleThreshold(d.Rules))
	})

	r.Route("/blocks", func(rt chi.Router) {
		rt.Get("/", handleBlocksList(d.Blocks))
		rt.Post("/block", handleBlock(d.Blocks))
		rt.Post("/unblock", handleUnblock(d.Blocks))
		rt.Get("/enforcer/health", handleEnforcerHealth(d.Enforcer))
	})

	r.Route("/campaigns", func(rt chi.Router) {
		rt.Get("/", handleCampaignsList(d.Campaigns))
		rt.Get("/{id}", handleCampaignGet(d.Campaigns))
	})

	r.Route("/settings", func(rt chi.Router) {
		rt.Get("/", handleSettingsGet(d.Settings))
		rt.Post("/", handleSettingsUpdate(d.Settings))
		rt.Post("/mode", handleSettingsMode(d.Settings, d.Enforcer))
	})

	r.Get("/dashboard/*", func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotImplemented, "dashboard is an external collaborator, not served here")
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, "not_found")
	})

	return r
}

func handleIngest(p *processor.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}

		var raw ingest.RawEvent
		if err := json.Unmarshal(body, &raw); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err == nil {
			raw.Raw = fields
		}

		result, err := p.Process(req.Context(), raw)
		if err != nil {
			if ve, ok := err.(*ingest.ValidationError); ok {
				writeErr(w, http.StatusBadRequest, ve.Error())
				return
			}
			log.Error().Err(err).Msg("process event failed")
			writeErr(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func handleRulesList(rm *rules.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, rm.GetAll())
	}
}

func handleRuleEnable(rm *rules.Manager, enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		var err error
		if enable {
			err = rm.Enable(id)
		} else {
			err = rm.Disable(id)
		}
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleRuleThreshold(rm *rules.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		var body struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := rm.UpdateThreshold(id, body.Threshold); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleBlocksList(bs *blockstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, bs.All())
	}
}

func handleBlock(bs *blockstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Entity string  `json:"entity"`
			Risk   float64 `json:"risk"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Entity == "" {
			writeErr(w, http.StatusBadRequest, "entity is required")
			return
		}
		rec, err := bs.UpsertManual(body.Entity, body.Risk, time.Now().UnixMilli())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleUnblock(bs *blockstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Entity string `json:"entity"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Entity == "" {
			writeErr(w, http.StatusBadRequest, "entity is required")
			return
		}
		if err := bs.Unblock(body.Entity); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleCampaignsList(cs *campaign.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, cs.List())
	}
}

func handleCampaignGet(cs *campaign.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		rec, ok := cs.Get(id)
		if !ok {
			writeErr(w, http.StatusNotFound, "unknown campaign id")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleEnforcerHealth(b *enforce.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ok := b.Health(req.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]bool{"healthy": ok})
	}
}

func handleSettingsGet(s *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Get())
	}
}

func handleSettingsUpdate(s *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var next settings.Settings
		if err := json.NewDecoder(req.Body).Decode(&next); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := s.Update(next); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.Get())
	}
}

func handleSettingsMode(s *settings.Store, b *enforce.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Mode enforce.Mode `json:"mode"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := s.SetMode(body.Mode); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		// Best-effort: propagate the mode change to the enforcer too. A
		// failure here doesn't roll back the local setting; the operator
		// sees it in the response and can retry against the enforcer.
		if err := b.SetMode(req.Context(), body.Mode); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "warning": "enforcer mode sync failed: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func init() {
	metrics.RegisterAuthguardMetrics(prometheus.DefaultRegisterer)
}
