package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"pixelwatch/internal/config"
	"pixelwatch/internal/detect"
	"pixelwatch/internal/engine"
	"pixelwatch/internal/httpx"
	"pixelwatch/internal/integrations/jira"
	slackbot "pixelwatch/internal/integrations/slack"
	"pixelwatch/internal/monitor"
	"pixelwatch/internal/storage/sqlite"
)

// App bundles the store and engine every command works with.
type App struct {
	Config config.Config
	Rules  detect.RuleSet
	Store  *sqlite.Store
	Engine *engine.Engine
}

// Open applies the HTTP timeout, opens the database, builds the engine and
// activates the latest persisted model.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Project=%s Lookback=%dh RuleWeight=%.2f MLWeight=%.2f AlertThreshold=%.2f HighAlertThreshold=%.2f MinTrainingSamples=%d RetrainEvery=%d RulesPath=%s ExternalHTTPTimeout=%s",
		cfg.JiraProject,
		cfg.JiraLookbackHours,
		cfg.RuleWeight,
		cfg.MLWeight,
		cfg.AlertThreshold,
		cfg.HighAlertThreshold,
		cfg.MinTrainingSamples,
		cfg.RetrainEvery,
		cfg.RulesPath,
		appliedHTTPTimeout,
	)

	rules, err := detect.LoadRuleSet(cfg.RulesPath)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)

	eng, err := engine.New(store, engine.Options{
		Rules:        rules,
		Scorer:       cfg.ScorerConfig(),
		Training:     cfg.TrainOptions(),
		RetrainEvery: cfg.RetrainEvery,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := eng.LoadModel(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &App{Config: cfg, Rules: rules, Store: store, Engine: eng}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// JiraClient builds the ticket source from config.
func (a *App) JiraClient() (*jira.Client, error) {
	if err := a.Config.RequireJira(); err != nil {
		return nil, err
	}
	return jira.NewClient(jira.Options{
		BaseURL:    a.Config.JiraURL,
		Email:      a.Config.JiraEmail,
		Token:      a.Config.JiraToken,
		Project:    a.Config.JiraProject,
		MaxResults: a.Config.JiraMaxResults,
		Location:   a.Config.Location,
	})
}

// Monitor builds a poller. notifier may be nil to record alerts without
// posting them.
func (a *App) Monitor(notifier monitor.Notifier) (*monitor.Monitor, error) {
	source, err := a.JiraClient()
	if err != nil {
		return nil, err
	}
	return monitor.New(source, a.Engine, a.Store, notifier, monitor.Options{
		Lookback:   time.Duration(a.Config.JiraLookbackHours) * time.Hour,
		AlertLabel: a.Config.JiraAlertLabel,
	}), nil
}

// RunService starts the poll and digest schedulers and blocks on the Slack
// feedback listener until ctx is cancelled.
func (a *App) RunService(ctx context.Context) error {
	if err := a.Config.RequireSlack(); err != nil {
		return err
	}
	api := slackbot.NewAPI(a.Config.SlackBotToken, a.Config.SlackAppToken)
	notifier := slackbot.NewNotifier(api, a.Config.SlackAlertChannelID)
	mon, err := a.Monitor(notifier)
	if err != nil {
		return err
	}

	poll := func(ctx context.Context) error {
		res, err := mon.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Printf("Poll complete: %s", monitor.FormatCycleSummary(res))
		return nil
	}
	digest := func(ctx context.Context) error {
		_, err := mon.RunDigest(ctx)
		return err
	}
	if err := monitor.StartScheduler(ctx, "poll", config.CronParser, a.Config.PollSchedule, a.Config.Location, poll); err != nil {
		return err
	}
	if err := monitor.StartScheduler(ctx, "digest", config.CronParser, a.Config.DigestSchedule, a.Config.Location, digest); err != nil {
		return err
	}

	log.Println("Starting pixel ticket monitor...")
	return slackbot.NewListener(api, a.Engine).Run(ctx)
}
