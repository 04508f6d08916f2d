// Command agentrt is the process entrypoint that wires a concrete LLM
// provider adapter, the tool registry, and the rest of the Agent Execution
// Core components into one runnable Iteration Scheduler.
//
// Grounded on the teacher's own process-entrypoint pattern (a thin cobra
// command, not a REPL or gateway), adapted from channel/gateway bootstrap
// down to a single task-in, completion-status-out invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/agentkit/runtime/internal/agent"
	"github.com/agentkit/runtime/internal/agent/providers"
	"github.com/agentkit/runtime/internal/approval"
	"github.com/agentkit/runtime/internal/clock"
	"github.com/agentkit/runtime/internal/config"
	execsafety "github.com/agentkit/runtime/internal/exec"
	"github.com/agentkit/runtime/internal/mcp"
	"github.com/agentkit/runtime/internal/observability"
	"github.com/agentkit/runtime/internal/policy"
	"github.com/agentkit/runtime/internal/registry"
	"github.com/agentkit/runtime/internal/scheduler"
	"github.com/agentkit/runtime/internal/thread"
	"github.com/agentkit/runtime/pkg/models"
)

func main() {
	var (
		providerName string
		model        string
		task         string
		preset       string
		mcpConfig    string
		system       string
		configPath   string
		watchConfig  bool
	)

	root := &cobra.Command{
		Use:   "agentrt",
		Short: "Run one Agent Execution Core iteration loop against a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if task == "" {
				return fmt.Errorf("--task is required")
			}
			return run(cmd.Context(), runOptions{
				providerName: providerName,
				model:        model,
				task:         task,
				preset:       preset,
				mcpConfig:    mcpConfig,
				system:       system,
				configPath:   configPath,
				watchConfig:  watchConfig,
			})
		},
	}

	root.Flags().StringVar(&providerName, "provider", "anthropic", "LLM provider: anthropic | openai | bedrock | google")
	root.Flags().StringVar(&model, "model", "", "model identifier override (defaults to provider default)")
	root.Flags().StringVar(&task, "task", "", "the task to run the agent against")
	root.Flags().StringVar(&preset, "preset", clock.PresetStandard, "budget preset: quick | standard | subagent | large | unlimited (ignored when --config sets session.budget.preset)")
	root.Flags().StringVar(&mcpConfig, "mcp-config", "", "path to an MCP server config file (ignored when --config sets mcp.servers)")
	root.Flags().StringVar(&system, "system", "You are a careful, precise software engineering agent.", "system prompt")
	root.Flags().StringVar(&configPath, "config", "", "path to an agentrt config file (yaml, supports $include and ${VAR} expansion)")
	root.Flags().BoolVar(&watchConfig, "watch-config", false, "hot-reload policy profiles and risk thresholds when --config changes on disk")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrt:", err)
		os.Exit(1)
	}
}

type runOptions struct {
	providerName string
	model        string
	task         string
	preset       string
	mcpConfig    string
	system       string
	configPath   string
	watchConfig  bool
}

func run(ctx context.Context, opts runOptions) error {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("agentrt: loading config: %w", err)
		}
		cfg = loaded
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	if cfg != nil {
		logger = observability.NewLogger(config.EffectiveLogConfig(cfg.Logging))
	}

	providerName := opts.providerName
	if cfg != nil && providerName == "anthropic" && cfg.LLM.DefaultProvider != "" {
		providerName = cfg.LLM.DefaultProvider
	}
	llmProvider, err := buildProvider(providerName)
	if err != nil {
		return err
	}

	reg := registry.New()
	registerBuiltinTools(reg)

	var mcpCfg *mcp.Config
	switch {
	case cfg != nil && cfg.MCP.Enabled:
		mcpCfg = &cfg.MCP
	case opts.mcpConfig != "":
		loaded, err := loadMCPConfig(opts.mcpConfig)
		if err != nil {
			return fmt.Errorf("agentrt: loading mcp config: %w", err)
		}
		mcpCfg = loaded
	}
	if mcpCfg != nil {
		mgr := mcp.NewManager(mcpCfg, nil)
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("agentrt: starting mcp manager: %w", err)
		}
		defer mgr.Stop()
		reg.SetMCPSource(mcp.NewRegistrySource(mgr))
	}

	budgetCfg := clock.Preset(opts.preset)
	maxCheckpoints := 20
	if cfg != nil {
		budgetCfg = config.EffectiveBudgetConfig(cfg.Session.Budget)
		if cfg.Session.MaxCheckpoints > 0 {
			maxCheckpoints = cfg.Session.MaxCheckpoints
		}
	}
	budget := clock.New(budgetCfg, nil)
	threads := thread.New(maxCheckpoints)
	session := &models.Session{ID: "root", SessionType: models.SessionTypeRoot, Channel: models.ChannelCLI, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	t := threads.CreateThread(session)

	if cfg != nil && cfg.Session.Persistence.Driver != "" {
		store, err := openCheckpointStore(cfg.Session.Persistence)
		if err != nil {
			return fmt.Errorf("agentrt: opening checkpoint store: %w", err)
		}
		defer store.Close()
		threads.SetPersistence(store)
	}

	if cfg != nil && cfg.Session.CheckpointGC.Schedule != "" {
		gc, err := thread.NewGC(threads, cfg.Session.CheckpointGC.Schedule, cfg.Session.CheckpointGC.MaxAge)
		if err != nil {
			return fmt.Errorf("agentrt: invalid checkpoint_gc schedule: %w", err)
		}
		gc.Start()
		defer gc.Stop(ctx)
	}

	profiles := map[string]*policy.Profile{}
	defaultProfileName := "default"
	riskPolicy := approval.DefaultRiskPolicy()
	if cfg != nil && len(cfg.Policy.Profiles) > 0 {
		profiles = config.EffectiveProfiles(cfg.Policy)
		if cfg.Policy.DefaultProfile != "" {
			defaultProfileName = cfg.Policy.DefaultProfile
		}
		riskPolicy = config.EffectiveRiskPolicy(cfg.Tools.Execution.Approval)
	} else {
		p := defaultProfile()
		profiles[p.Name] = p
		defaultProfileName = p.Name
	}
	policyEngine := policy.NewEngine(profiles, defaultProfileName)
	approvalGate := approval.New(riskPolicy, nil)

	if opts.watchConfig && opts.configPath != "" {
		watcher := config.NewWatcher(opts.configPath, func(reloaded *config.Config, err error) {
			if err != nil {
				logger.Warn(ctx, "config reload failed", "error", err)
				return
			}
			if len(reloaded.Policy.Profiles) > 0 {
				defaultName := reloaded.Policy.DefaultProfile
				if defaultName == "" {
					defaultName = defaultProfileName
				}
				policyEngine.SetProfiles(config.EffectiveProfiles(reloaded.Policy), defaultName)
			}
			approvalGate.SetPolicy(config.EffectiveRiskPolicy(reloaded.Tools.Execution.Approval))
			logger.Info(ctx, "config reloaded", "path", opts.configPath)
		})
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("agentrt: starting config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	logger.Info(ctx, "agentrt starting", "provider", providerName, "profile", defaultProfileName)

	adapter := providers.NewSchedulerAdapter(llmProvider, reg, opts.system)
	metrics := observability.NewMetrics()

	sched, err := scheduler.New(scheduler.Config{
		Provider:     adapter,
		Budget:       budget,
		Policy:       policyEngine,
		Approval:     approvalGate,
		Registry:     reg,
		Context:      t.Store,
		Model:        opts.model,
		ProviderName: providerName,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("agentrt: %w", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "agentrt",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	var status *scheduler.CompletionStatus
	runErr := observability.WithSpan(ctx, tracer, "agentrt.run", func(spanCtx context.Context, _ trace.Span) error {
		var err error
		status, err = sched.Run(spanCtx, opts.task)
		return err
	})
	if runErr != nil {
		return fmt.Errorf("agentrt: run: %w", runErr)
	}

	fmt.Printf("status: success=%v reason=%s details=%q\n", status.Success, status.Reason, status.Details)
	for _, msg := range t.Store.Messages() {
		if msg.Role == models.RoleAssistant && msg.Content != "" {
			fmt.Println(msg.Content)
		}
	}
	return nil
}

func buildProvider(name string) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for --provider=anthropic")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey})
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for --provider=openai")
		}
		return providers.NewOpenAIProvider(apiKey), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          os.Getenv("AWS_REGION"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
	case "google":
		apiKey := os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY is required for --provider=google")
		}
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func loadMCPConfig(path string) (*mcp.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &mcp.Config{Enabled: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCheckpointStore opens the configured thread.CheckpointStore backend.
func openCheckpointStore(cfg config.PersistenceConfig) (thread.CheckpointStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return thread.NewSQLiteCheckpointStore(cfg.DSN)
	case "postgres":
		return thread.NewPostgresCheckpointStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown session.persistence.driver %q", cfg.Driver)
	}
}

func defaultProfile() *policy.Profile {
	return &policy.Profile{
		Name:                profile,
		ToolAccessMode:      policy.ModeAll,
		BashMode:            policy.BashTaskScoped,
		BashWriteProtection: policy.WriteProtectionBlockFileMutation,
		AllowlistPrefixes:   []string{"ls", "cat", "grep", "find", "git status", "git diff", "git log"},
	}
}

const profile = "default"

// registerBuiltinTools wires the bash builtin the registry offers the
// scheduler. bash runs through internal/exec's argument sanitizer before
// exec.CommandContext ever sees the tokens, so a model trying to smuggle a
// second command past the policy layer (`; rm -rf`, backticks, a stray
// `$(...)`) gets rejected before a process is spawned rather than relying
// on BashWriteProtection alone.
func registerBuiltinTools(reg *registry.Registry) {
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name:        "bash",
		Description: "Run a shell command (tokenized, not via /bin/sh -c) and return its combined output.",
		Danger:      registry.DangerDangerous,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return nil, fmt.Errorf("bash: command argument is required")
			}
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return nil, fmt.Errorf("bash: command argument is required")
			}
			bin, err := execsafety.SanitizeExecutableValue(fields[0])
			if err != nil {
				return nil, fmt.Errorf("bash: unsafe executable %q: %w", fields[0], err)
			}
			cmdArgs, err := execsafety.SanitizeArguments(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("bash: %w", err)
			}
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			cmd := exec.CommandContext(runCtx, bin, cmdArgs...)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return string(out), fmt.Errorf("bash: %w", err)
			}
			return string(out), nil
		},
	})
}
