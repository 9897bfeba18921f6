package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-proxy/aegis/internal/config"
	"github.com/aegis-proxy/aegis/pkg/agentrpc"
	"github.com/aegis-proxy/aegis/pkg/audit"
	"github.com/aegis-proxy/aegis/pkg/enforce/constraints"
	"github.com/aegis-proxy/aegis/pkg/enforce/obligations"
	"github.com/aegis-proxy/aegis/pkg/mcprouter"
	"github.com/aegis-proxy/aegis/pkg/pdp"
	"github.com/aegis-proxy/aegis/pkg/policy"
	"github.com/aegis-proxy/aegis/pkg/policystore"
)

// app holds every long-lived component main wires together, listed in
// the order buildApp constructs them.
type app struct {
	log      *zap.Logger
	cfg      *config.Config
	store    *policystore.Store
	watcher  *policystore.Watcher
	recorder *audit.Recorder
	decider  *hybridDecider
	router   *mcprouter.Router
	rpc      *agentrpc.Server
	server   *http.Server

	reportSink    *obligations.FileReportSink
	closeAuditLog func() error
}

// buildApp constructs every component spec.md §2's dependency-ordered
// table names (leaves first: C1/C2/C3 inside pkg/pdp, then C4, C5, C6,
// C7, then C8 and C9 on top) and wires them exactly along the data flow
// spec.md §2 describes: "agent RPC -> ... -> MCP router ... -> PDP ...
// -> constraint pipeline -> obligation pipeline -> audit recorder".
func buildApp(log *zap.Logger, cfg *config.Config) (*app, error) {
	store, err := policystore.New(cfg.PolicyStorePath)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	watcher, err := policystore.Watch(store)
	if err != nil {
		log.Warn("policy store hot-reload watch unavailable", zap.Error(err))
	}

	jsonlSink, closeAuditLog, err := audit.FileSink(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	recorder := audit.NewRecorder(10000, jsonlSink)

	cache := policy.NewDecisionCache(cfg.CacheTTL, cfg.CacheMaxSize)
	if !cfg.CacheEnabled {
		cache = nil
	}

	// No concrete LLM provider client is wired: "the LLM provider client
	// itself" is an explicit out-of-scope external collaborator (spec.md
	// §1). Natural-language policies still compile and are still counted
	// by selectEngines, but with a nil Judge the PDP falls through to
	// notApplicableOrIndeterminate, which the decider's boundary
	// normalization then collapses to a conservative DENY — the same
	// fail-safe spec.md §4.2 describes for an LLM timeout, just reached
	// one layer up because no adapter was ever plugged in.
	pdpCfg := pdp.DefaultConfig()
	pdpCfg.CacheEnabled = cfg.CacheEnabled
	engine := pdp.New(pdpCfg, cache, nil)

	tel, err := newTelemetry()
	if err != nil {
		log.Warn("telemetry unavailable, decisions will not be traced", zap.Error(err))
		tel = nil
	}
	decider := newHybridDecider(store, engine, recorder, log, tel)

	constraintPipeline := constraints.DefaultRegistry(nil, nil, false)

	reportSink, err := obligations.NewFileReportSink(cfg.ReportSinkPath)
	if err != nil {
		return nil, fmt.Errorf("open report sink: %w", err)
	}
	escalator := obligations.EscalatorFunc(func(_ context.Context, directive string, err error) {
		log.Error("obligation escalated", zap.String("directive", directive), zap.Error(err))
	})
	obligationPipeline := obligations.NewPipeline(cfg.MaxConcurrentRequests,
		escalator,
		obligations.NewAuditLogger(recorder),
		obligations.NewNotifier(map[string]obligations.Channel{
			"webhook": obligations.NewWebhookChannel(5 * time.Second),
		}),
		obligations.NewScheduleDeletion(obligations.NewInMemoryScheduler()),
		obligations.NewReportGenerator(reportSink),
	)

	upstreams, err := loadUpstreams(cfg.AegisMCPConfig)
	if err != nil {
		return nil, fmt.Errorf("load upstream servers: %w", err)
	}
	router := mcprouter.NewRouter(upstreams, decider,
		mcprouter.WithConstraintPipeline(constraintPipeline),
		mcprouter.WithObligationPipeline(obligationPipeline),
	)

	rpc := agentrpc.NewServer(agentrpc.Config{
		AgentID:            "aegis-proxy",
		MaxDelegationDepth: cfg.MaxDelegationDepth,
		MaxConcurrentTasks: cfg.MaxConcurrentRequests,
		Card: agentrpc.AgentCard{
			Name:        "aegis-proxy",
			Description: "Policy-enforcing MCP proxy and multi-agent task host",
			Capabilities: agentrpc.Capabilities{
				Streaming:              true,
				PushNotifications:      false,
				StateTransitionHistory: true,
				MaxConcurrentTasks:     cfg.MaxConcurrentRequests,
			},
		},
	},
		agentrpc.WithToolCaller(router),
		// No Delegator is configured here: spec.md §4.9 requires
		// delegation targets be "known at startup", and no env var or
		// file names them in spec.md §6, so the default install delegates
		// to nothing. Without WithDelegator, DelegateTask fails with
		// "no delegator configured" rather than accepting free-form URLs.
	)

	return &app{
		log:           log,
		cfg:           cfg,
		store:         store,
		watcher:       watcher,
		recorder:      recorder,
		decider:       decider,
		router:        router,
		rpc:           rpc,
		reportSink:    reportSink,
		closeAuditLog: closeAuditLog,
	}, nil
}
