package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/config"
	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/gate"
	"github.com/fyrsmithlabs/bugbind/internal/ledger"
	"github.com/fyrsmithlabs/bugbind/internal/match"
	"github.com/fyrsmithlabs/bugbind/internal/model"
	"github.com/fyrsmithlabs/bugbind/internal/testmgmt"
	"github.com/fyrsmithlabs/bugbind/internal/tracker"
	"github.com/fyrsmithlabs/bugbind/internal/workflow"
)

// Registry provides access to all bugbind services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Tracker() tracker.Client
	TestMgmt() testmgmt.Client
	Corrections() *corrections.Store
	Matcher() *match.Engine
	Gate() *gate.Checker
	Workflows() *workflow.Orchestrator
}

// Options configures the registry with service instances.
type Options struct {
	Tracker     tracker.Client
	TestMgmt    testmgmt.Client
	Corrections *corrections.Store
	Matcher     *match.Engine
	Gate        *gate.Checker
	Workflows   *workflow.Orchestrator
}

// registry is the concrete implementation of Registry.
type registry struct {
	tracker     tracker.Client
	testMgmt    testmgmt.Client
	corrections *corrections.Store
	matcher     *match.Engine
	gate        *gate.Checker
	workflows   *workflow.Orchestrator
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		tracker:     opts.Tracker,
		testMgmt:    opts.TestMgmt,
		corrections: opts.Corrections,
		matcher:     opts.Matcher,
		gate:        opts.Gate,
		workflows:   opts.Workflows,
	}
}

func (r *registry) Tracker() tracker.Client             { return r.tracker }
func (r *registry) TestMgmt() testmgmt.Client           { return r.testMgmt }
func (r *registry) Corrections() *corrections.Store     { return r.corrections }
func (r *registry) Matcher() *match.Engine              { return r.matcher }
func (r *registry) Gate() *gate.Checker                 { return r.gate }
func (r *registry) Workflows() *workflow.Orchestrator   { return r.workflows }

// Build wires the full service graph from configuration. The returned close
// function releases the ledger database and must be called on shutdown.
func Build(cfg *config.Config, logger *zap.Logger) (Registry, func() error, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	closeFn := func() error { return nil }

	var correctionLedger, matchLedger ledger.Ledger
	if cfg.Ledger.Path != "" {
		db, err := ledger.OpenSQLite(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening ledger database: %w", err)
		}
		closeFn = db.Close
		if correctionLedger, err = db.Ledger("corrections"); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if matchLedger, err = db.Ledger("matches"); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	} else {
		logger.Warn("no ledger path configured, learning will not survive restarts")
		correctionLedger = ledger.NewMemoryLedger()
		matchLedger = ledger.NewMemoryLedger()
	}

	var storeOpts []corrections.Option
	if cfg.Matching.LearningDisabled {
		storeOpts = append(storeOpts, corrections.WithLearningDisabled())
	}
	store, err := corrections.NewStore(correctionLedger, matchLedger, logger, storeOpts...)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating correction store: %w", err)
	}

	trackerClient, err := tracker.NewJiraClient(tracker.Config{
		BaseURL:        cfg.Tracker.BaseURL,
		Email:          cfg.Tracker.Email,
		APIToken:       cfg.Tracker.APIToken.Value(),
		RequestTimeout: cfg.Tracker.RequestTimeout.Duration(),
		MaxRetries:     cfg.Tracker.MaxRetries,
	}, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating tracker client: %w", err)
	}

	testClient, err := testmgmt.NewTestRailClient(testmgmt.Config{
		BaseURL:         cfg.TestMgmt.BaseURL,
		User:            cfg.TestMgmt.User,
		APIKey:          cfg.TestMgmt.APIKey.Value(),
		RequestTimeout:  cfg.TestMgmt.RequestTimeout.Duration(),
		SectionCacheTTL: cfg.TestMgmt.SectionCacheTTL.Duration(),
	}, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating test-management client: %w", err)
	}

	modelClient, err := model.NewLLMClient(model.Config{
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
		APIKey:  cfg.Model.APIKey.Value(),
	}, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating model client: %w", err)
	}

	var engineOpts []match.EngineOption
	if !cfg.Matching.PreFilterDisabled {
		engineOpts = append(engineOpts, match.WithPreFilter(match.NewPreFilter(testClient, logger)))
	}
	engine, err := match.NewEngine(match.Config{
		Mode:                    match.Mode(cfg.Matching.Mode),
		ConfidenceThreshold:     cfg.Matching.ConfidenceThreshold,
		MultiMatchMinConfidence: cfg.Matching.MultiMatchMinConfidence,
		ModelTimeout:            cfg.Matching.ModelTimeout.Duration(),
	}, store, modelClient, logger, engineOpts...)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating matching engine: %w", err)
	}

	checker, err := gate.NewChecker(gate.Config{
		OpenStatuses:  cfg.Gate.OpenStatuses,
		LookupTimeout: cfg.Gate.LookupTimeout.Duration(),
	}, testClient, trackerClient, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating defect gate: %w", err)
	}

	orchestrator, err := workflow.New(trackerClient, testClient, engine, store, checker, logger)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("creating workflow orchestrator: %w", err)
	}

	return NewRegistry(Options{
		Tracker:     trackerClient,
		TestMgmt:    testClient,
		Corrections: store,
		Matcher:     engine,
		Gate:        checker,
		Workflows:   orchestrator,
	}), closeFn, nil
}
