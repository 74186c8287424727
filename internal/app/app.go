// Package app assembles every collaborator into a single Application value,
// constructed explicitly in main instead of relying on package-level
// singletons (spec.md §9).
package app

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skywalker-88/authguard/internal/alert"
	"github.com/skywalker-88/authguard/internal/blockstore"
	"github.com/skywalker-88/authguard/internal/campaign"
	"github.com/skywalker-88/authguard/internal/decision"
	"github.com/skywalker-88/authguard/internal/enforce"
	"github.com/skywalker-88/authguard/internal/eventlog"
	"github.com/skywalker-88/authguard/internal/ingest"
	"github.com/skywalker-88/authguard/internal/processor"
	"github.com/skywalker-88/authguard/internal/risk"
	"github.com/skywalker-88/authguard/internal/rules"
	"github.com/skywalker-88/authguard/internal/settings"
	"github.com/skywalker-88/authguard/internal/state"
	"github.com/skywalker-88/authguard/pkg/config"
)

// Application holds every constructed collaborator and the single
// Processor built from them. It is the one mutable aggregate the rest of
// the program depends on; nothing here is a package-level var.
type Application struct {
	Config *config.Config

	Rules       *rules.Manager
	State       *state.Store
	Decision    *decision.Engine
	Enforcer    *enforce.Bridge
	EventLog    *eventlog.Log
	Blocks      *blockstore.Store
	Alerts      *alert.Manager
	Campaigns   *campaign.Store
	Settings    *settings.Store
	ReplayGuard *ingest.ReplayGuard
	Redis       *redis.Client

	Processor *processor.Processor
}

// New wires every collaborator from cfg. The caller owns cleanup: Close
// releases the Postgres pool and Redis client.
func New(cfg *config.Config) (*Application, error) {
	halfLife := cfg.Detection.Risk.HalfLifeSeconds
	if halfLife <= 0 {
		halfLife = risk.DefaultHalfLifeSec
	}
	maxRisk := cfg.Detection.Risk.MaxRisk
	if maxRisk <= 0 {
		maxRisk = risk.DefaultMaxRisk
	}

	st := state.New(halfLife, maxRisk)
	if cfg.Detection.Risk.JanitorIntervalSeconds > 0 {
		st.StartJanitor(time.Duration(cfg.Detection.Risk.JanitorIntervalSeconds)*time.Second, time.Now)
	}
	rm := rules.NewManager()

	thresholds := decision.DefaultThresholds()
	if cfg.Detection.Decision.BlockThreshold > 0 {
		thresholds = decision.Thresholds{
			Block:     cfg.Detection.Decision.BlockThreshold,
			Challenge: cfg.Detection.Decision.ChallengeThreshold,
			Monitor:   cfg.Detection.Decision.MonitorThreshold,
		}
	}
	decEngine := decision.NewEngine(thresholds)

	// The bridge's 1s per-call timeout is fixed by spec, not configurable
	// (spec.md §4.8): cfg.Enforcement.TimeoutSeconds documents that budget
	// for operators but isn't threaded into the bridge itself.
	bridge := enforce.NewBridge(cfg.Enforcement.URL)

	var evlog *eventlog.Log
	if cfg.Storage.Postgres.DSN != "" {
		l, err := eventlog.Open(cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		evlog = l
	}

	blockPath := cfg.Storage.BlockStorePath
	if blockPath == "" {
		blockPath = "data/blocks.json"
	}
	blocks, err := blockstore.Open(blockPath)
	if err != nil {
		return nil, err
	}

	settingsPath := cfg.Storage.SettingsPath
	if settingsPath == "" {
		settingsPath = "data/settings.json"
	}
	settingsStore, err := settings.Open(settingsPath)
	if err != nil {
		return nil, err
	}

	campaignPath := cfg.Storage.CampaignPath
	if campaignPath == "" {
		campaignPath = "data/campaigns.json"
	}
	campaigns, err := campaign.Open(campaignPath)
	if err != nil {
		return nil, err
	}

	suppression := 300 * time.Second
	if cfg.Alert.SuppressionWindowSeconds > 0 {
		suppression = time.Duration(cfg.Alert.SuppressionWindowSeconds) * time.Second
	}
	alertManager := alert.NewManager(cfg.Alert.WebhookURL, suppression)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	var replayGuard *ingest.ReplayGuard
	if cfg.Replay.Enabled {
		replayTTL := 300 * time.Second
		if cfg.Replay.TTLSeconds > 0 {
			replayTTL = time.Duration(cfg.Replay.TTLSeconds) * time.Second
		}
		replayGuard = ingest.NewReplayGuard(replayTTL, rdb)
	}

	proc := processor.New(processor.Deps{
		Rules:       rm,
		State:       st,
		Decision:    decEngine,
		Enforcer:    bridge,
		EventLog:    evlog,
		Blocks:      blocks,
		Alerts:      alertManager,
		Campaigns:   campaigns,
		Settings:    settingsStore,
		ReplayGuard: replayGuard,
	})

	return &Application{
		Config:      cfg,
		Rules:       rm,
		State:       st,
		Decision:    decEngine,
		Enforcer:    bridge,
		EventLog:    evlog,
		Blocks:      blocks,
		Alerts:      alertManager,
		Campaigns:   campaigns,
		Settings:    settingsStore,
		ReplayGuard: replayGuard,
		Redis:       rdb,
		Processor:   proc,
	}, nil
}

// Close releases external resources. Safe to call on a partially built
// Application (nil fields are skipped).
func (a *Application) Close() {
	if a.State != nil {
		a.State.StopJanitor()
	}
	if a.EventLog != nil {
		_ = a.EventLog.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
