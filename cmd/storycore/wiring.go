package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridianlabs/storycore/internal/actor"
	"github.com/veridianlabs/storycore/internal/agent"
	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/config"
	"github.com/veridianlabs/storycore/internal/driver"
	"github.com/veridianlabs/storycore/internal/executor"
	"github.com/veridianlabs/storycore/internal/mcp"
	"github.com/veridianlabs/storycore/internal/metrics"
	"github.com/veridianlabs/storycore/internal/processor"
	"github.com/veridianlabs/storycore/internal/ratelimit"
	"github.com/veridianlabs/storycore/internal/repository"
	"github.com/veridianlabs/storycore/internal/resolver"
	"github.com/veridianlabs/storycore/internal/scheduler"
	"github.com/veridianlabs/storycore/internal/tracker"
)

// system holds every long-lived component buildSystem wires together from
// one loaded Config. cmd subcommands pull the pieces they need out of it
// rather than repeating construction logic.
type system struct {
	Config           *config.Config
	Registry         *prometheus.Registry
	Metrics          *metrics.Metrics
	Drivers          *driver.Registry
	Blobs            blobstore.BlobStore
	Repo             repository.Repository
	Executor         *executor.Executor
	Tracker          *tracker.Tracker
	Scheduler        *scheduler.Scheduler
	Skills           *actor.Registry
	Actors           map[string]*actor.Actor
	Loop             *agent.Loop
	MCPClients       []*mcp.Client
	NarrativeWatcher *narrativeWatcher
}

// buildSystem constructs every component named in cfg: the driver registry
// (one entry per configured provider), the blob store and repository
// backend, the narrative executor's rate limiter and processor pipeline,
// the execution tracker and scheduler, and the actor skill registry. It does
// not start any background goroutine; callers decide when to Start.
func buildSystem(ctx context.Context, cfg *config.Config) (*system, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	drivers, err := buildDrivers(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	repo, err := buildRepository(cfg, blobs)
	if err != nil {
		return nil, fmt.Errorf("build repository: %w", err)
	}

	limiterTier := firstTier(cfg)
	limiter := ratelimit.New(limiterTier, allTiers(cfg))

	narratives, err := loadNarratives(cfg.Narratives.Dir)
	if err != nil {
		return nil, fmt.Errorf("load narratives: %w", err)
	}

	res := resolver.New()
	res.Tables = &contentTableLookup{repo: repo}

	exec := &executor.Executor{
		Drivers:  drivers,
		Limiter:  limiter,
		Resolver: res,
		Pipeline: processor.NewPipeline(
			processor.NewContentProcessor(),
			processor.NewFormatterProcessor(),
			processor.NewDuplicateCheckProcessor(duplicateCheckWindow),
		),
		Repo: repo,
	}
	runner := &narrativeRunner{narratives: narratives, executor: exec}
	res.Narratives = runner

	trk := tracker.New(repo, cfg.Scheduler.MaxConsecutiveFailures)

	actorRegistry := actor.NewRegistry()
	registerNarrativeSkills(actorRegistry, narratives, exec)
	actors, err := buildActors(cfg, repo, actorRegistry)
	if err != nil {
		return nil, fmt.Errorf("build actors: %w", err)
	}

	watcher, err := newNarrativeWatcher(cfg.Narratives.Dir, runner, actorRegistry, exec)
	if err != nil {
		return nil, fmt.Errorf("watch narratives dir: %w", err)
	}

	sched := scheduler.New(repo, trk, actorTaskRunner(actors))
	sched.TickInterval = time.Duration(cfg.Scheduler.CheckIntervalSeconds) * time.Second
	sched.Workers = cfg.Scheduler.Workers
	if err := seedScheduleEntries(sched, cfg); err != nil {
		return nil, fmt.Errorf("seed schedule entries: %w", err)
	}

	tools := agent.NewToolRegistry()
	mcpClients, err := connectMCPServers(ctx, cfg, tools)
	if err != nil {
		return nil, fmt.Errorf("connect mcp servers: %w", err)
	}

	loop := agent.NewLoop(drivers.Drivers()[0], tools, buildApprovalManager(cfg.Agent.ApprovalMode))
	loop.Metrics = m

	return &system{
		Config:           cfg,
		Registry:         reg,
		Metrics:          m,
		Drivers:          drivers,
		Blobs:            blobs,
		Repo:             repo,
		Executor:         exec,
		Tracker:          trk,
		Scheduler:        sched,
		Skills:           actorRegistry,
		Actors:           actors,
		Loop:             loop,
		MCPClients:       mcpClients,
		NarrativeWatcher: watcher,
	}, nil
}

// connectMCPServers connects to every configured external MCP server and
// proxies its advertised tools into registry, so the agent loop sees
// in-process and MCP-backed tools side by side.
func connectMCPServers(ctx context.Context, cfg *config.Config, registry *agent.ToolRegistry) ([]*mcp.Client, error) {
	clients := make([]*mcp.Client, 0, len(cfg.Agent.MCPServers))
	for i := range cfg.Agent.MCPServers {
		srvCfg := cfg.Agent.MCPServers[i]
		client := mcp.NewClient(&srvCfg)
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect mcp server %s: %w", srvCfg.ID, err)
		}
		if err := mcp.RegisterTools(ctx, registry, client, srvCfg.ID); err != nil {
			return nil, fmt.Errorf("register tools from mcp server %s: %w", srvCfg.ID, err)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func buildDrivers(ctx context.Context, cfg *config.Config) (*driver.Registry, error) {
	registry := driver.NewRegistry()
	built := 0
	for name, p := range cfg.Providers {
		tier := tierFor(cfg, name, p.Tier)
		var (
			d   driver.Driver
			err error
		)
		switch name {
		case "anthropic":
			d, err = driver.NewAnthropicDriver(driver.AnthropicConfig{APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.DefaultModel, Tier: tier})
		case "openai":
			d, err = driver.NewOpenAIDriver(driver.OpenAIConfig{APIKey: p.APIKey, Model: p.DefaultModel, Tier: tier})
		case "google":
			d, err = driver.NewGoogleDriver(ctx, driver.GoogleConfig{APIKey: p.APIKey, Model: p.DefaultModel, Tier: tier})
		case "bedrock":
			d, err = driver.NewBedrockDriver(ctx, driver.BedrockConfig{Region: p.Region, Model: p.DefaultModel, Tier: tier})
		default:
			return nil, classify.New(classify.KindConfiguration, fmt.Sprintf("unknown provider %q", name))
		}
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		registry.Register(d.ModelName(), d)
		built++
	}
	if built == 0 {
		return nil, classify.New(classify.KindConfiguration, "at least one provider must be configured")
	}
	registry.RegisterFallback(registry.Drivers()[0])
	return registry, nil
}

func tierFor(cfg *config.Config, provider, tierName string) ratelimit.TierConfig {
	key := provider + ":" + tierName
	if lim, ok := cfg.Limits[key]; ok {
		return lim.TierConfig(key)
	}
	return ratelimit.TierConfig{Name: key}
}

func firstTier(cfg *config.Config) ratelimit.TierConfig {
	for name, lim := range cfg.Limits {
		return lim.TierConfig(name)
	}
	return ratelimit.TierConfig{Name: "default"}
}

func allTiers(cfg *config.Config) []ratelimit.TierConfig {
	out := make([]ratelimit.TierConfig, 0, len(cfg.Limits))
	for name, lim := range cfg.Limits {
		out = append(out, lim.TierConfig(name))
	}
	return out
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.Database.BlobBackend {
	case "local":
		return blobstore.NewLocalStore(cfg.Database.BlobPath), nil
	case "s3":
		return buildS3BlobStore(ctx, cfg.Database)
	default:
		return nil, classify.New(classify.KindConfiguration, fmt.Sprintf("unknown blob_backend %q", cfg.Database.BlobBackend))
	}
}

// buildS3BlobStore loads AWS credentials the same way the rest of this
// process does for Bedrock (environment, shared config, or instance role
// via config.LoadDefaultConfig) and points the resulting client at
// database.s3_endpoint when the deployment uses an S3-compatible store
// rather than AWS proper.
func buildS3BlobStore(ctx context.Context, dbCfg config.DatabaseConfig) (blobstore.BlobStore, error) {
	if strings.TrimSpace(dbCfg.S3Bucket) == "" {
		return nil, classify.New(classify.KindConfiguration, "database.s3_bucket is required when blob_backend is \"s3\"")
	}
	region := dbCfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if dbCfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(dbCfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return blobstore.NewS3Store(client, dbCfg.S3Bucket), nil
}

func buildRepository(cfg *config.Config, blobs blobstore.BlobStore) (repository.Repository, error) {
	switch cfg.Database.Driver {
	case "memory":
		return repository.NewMemory(blobs), nil
	case "postgres":
		return repository.NewPostgres(repository.PostgresConfig{DSN: cfg.Database.DSN}, blobs)
	case "sqlite":
		return repository.NewSQLite(cfg.Database.DSN, blobs)
	default:
		return nil, classify.New(classify.KindConfiguration, fmt.Sprintf("unknown database.driver %q", cfg.Database.Driver))
	}
}

// duplicateCheckWindow bounds how far back the duplicate-content processor
// looks for a matching hash; one day covers a single scheduler cycle of
// almost every actor cadence this system serves.
const duplicateCheckWindow = 24 * time.Hour
