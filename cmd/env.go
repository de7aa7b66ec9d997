package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/approval"
	"github.com/cardmint/scan-cli/internal/classifier"
	"github.com/cardmint/scan-cli/internal/corpus"
	"github.com/cardmint/scan-cli/internal/pipeline"
	"github.com/cardmint/scan-cli/internal/policy"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/internal/router"
	"github.com/cardmint/scan-cli/internal/store"
	"github.com/cardmint/scan-cli/internal/verifier"
	"github.com/cardmint/scan-cli/pkg/vision"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the run/scan/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Pipeline   *pipeline.Pipeline
	Resilience *resilience.Client
	Vision     vision.Client
	Approver   *approval.Engine
	Tiers      policy.Policy
	Corpus     *corpus.SQLiteChecker // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Corpus != nil {
		_ = pe.Corpus.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// loadTiers returns the configured tier policy, falling back to the shipped
// defaults when no override file is set.
func loadTiers(path string) (policy.Policy, error) {
	if path == "" {
		return policy.DefaultTiers(), nil
	}
	tiers, err := policy.Load(path)
	if err != nil {
		return nil, eris.Wrap(err, "load tier policy")
	}
	return tiers, nil
}

// initPipeline sets up the store, vision clients, tier policy, and all
// decision stages. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Vision.Key == "" {
		return nil, eris.New("vision API key is required (CARDMINT_VISION_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	tiers, err := loadTiers(cfg.Policy.TierFile)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := tiers.Validate(); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "validate tier policy")
	}

	visionClient := vision.NewClient(cfg.Vision.Key, cfg.Vision.VerifierModel)

	if cfg.Vision.WarmupOnStartup {
		if err := visionClient.Health(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "vision endpoint health check")
		}
		zap.L().Info("vision endpoint healthy")
	}

	rc := resilience.NewClient(resilience.RetryConfig{
		MaxAttempts:    cfg.Resilience.MaxAttempts,
		BackoffBase:    cfg.Resilience.BackoffBase(),
		BackoffMax:     cfg.Resilience.BackoffMax(),
		JitterFraction: cfg.Resilience.JitterFraction,
	}, cfg.Resilience.FailureThreshold, cfg.Resilience.Cooldown())

	timeout := time.Duration(cfg.Vision.TimeoutSecs) * time.Second

	cls := classifier.New(visionClient, rc, classifier.Config{
		Model:           cfg.Vision.PrimaryModel,
		MaxTokens:       int64(cfg.Vision.MaxTokens),
		Timeout:         timeout,
		FallbackEnabled: cfg.Classifier.FallbackEnabled,
		FallbackCommand: cfg.Classifier.FallbackCommand,
	})

	vf := verifier.New(visionClient, rc, verifier.Config{
		Model:     cfg.Vision.VerifierModel,
		MaxTokens: int64(cfg.Vision.MaxTokens),
		Timeout:   timeout,
	})

	rt := router.New(tiers, router.Options{
		AutoApproveEnabled: cfg.Router.AutoApproveEnabled,
		BypassEnabled:      cfg.Router.BypassEnabled,
		BypassMargin:       cfg.Router.BypassMargin,
		SampleRate:         cfg.Router.SampleRate,
	}, nil)

	ap := approval.New(approval.Config{
		Enabled:       cfg.Approval.Enabled,
		MaxPerHour:    cfg.Approval.MaxPerHour,
		RequireCorpus: cfg.Approval.RequireCorpus,
	}, tiers, st)

	// Reference corpus is optional: without it, approval loses the
	// corpus-validated signal but everything else still works.
	var cc pipeline.CorpusChecker = corpus.NopChecker{}
	var checker *corpus.SQLiteChecker
	if cfg.Corpus.Path != "" {
		checker, err = corpus.NewSQLite(cfg.Corpus.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "open corpus")
		}
		if cfg.Corpus.MinSimilarity > 0 {
			checker.MinSimilarity = cfg.Corpus.MinSimilarity
		}
		if cfg.Corpus.MaxMatches > 0 {
			checker.MaxMatches = cfg.Corpus.MaxMatches
		}
		cc = checker
		zap.L().Info("reference corpus enabled", zap.String("path", cfg.Corpus.Path))
	} else {
		zap.L().Debug("CARDMINT_CORPUS_PATH not set, corpus cross-check disabled")
	}

	p := pipeline.New(cls, rt, vf, cc, ap, st)

	return &pipelineEnv{
		Store:      st,
		Pipeline:   p,
		Resilience: rc,
		Vision:     visionClient,
		Approver:   ap,
		Tiers:      tiers,
		Corpus:     checker,
	}, nil
}
