// kopsyd is the local orchestrator daemon: it wires C1-C10 together and
// exposes them over HTTP via the SSE Gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/agentrt"
	"github.com/tarsy-labs/kopsy/pkg/api"
	"github.com/tarsy-labs/kopsy/pkg/approval"
	"github.com/tarsy-labs/kopsy/pkg/config"
	"github.com/tarsy-labs/kopsy/pkg/database"
	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/notify"
	"github.com/tarsy-labs/kopsy/pkg/orchestrator"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/summarizer"
	"github.com/tarsy-labs/kopsy/pkg/todo"
	"github.com/tarsy-labs/kopsy/pkg/tools"
	"github.com/tarsy-labs/kopsy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// specialistSpecs names the three specialists the supervisor's own system
// prompt already refers to by name (pkg/orchestrator's supervisorInstructions).
// Their tool sets are restricted to the stub direct tools until a concrete
// backend is wired in (spec.md Non-goals).
func specialistSpecs(model string, maxTurns int) []orchestrator.SpecialistSpec {
	return []orchestrator.SpecialistSpec{
		{
			ToolName:     "log_analysis",
			AgentName:    "log-analysis",
			Description:  "Investigate a focused question by examining relevant logs.",
			Instructions: "You are a log analysis specialist investigating a Kubernetes incident. Answer the supervisor's question using the tools available to you, and report exactly what you found, including if you found nothing conclusive.",
			ToolNames:    []string{"get_resource_yaml", "search_past_investigations"},
			Model:        model,
			MaxTurns:     maxTurns,
		},
		{
			ToolName:     "resource_discovery",
			AgentName:    "resource-discovery",
			Description:  "Investigate a focused question about Kubernetes resource state and relationships.",
			Instructions: "You are a resource discovery specialist investigating a Kubernetes incident. Use the tools available to you to resolve the supervisor's question about resource state or dependencies, and report exactly what you found.",
			ToolNames:    []string{"get_resource_yaml", "get_resource_dependency"},
			Model:        model,
			MaxTurns:     maxTurns,
		},
		{
			ToolName:     "metrics_analysis",
			AgentName:    "metrics-analysis",
			Description:  "Investigate a focused question by examining relevant metrics.",
			Instructions: "You are a metrics analysis specialist investigating a Kubernetes incident. Use the tools available to you to answer the supervisor's question about resource utilization or performance, and report exactly what you found.",
			ToolNames:    []string{"get_resource_yaml"},
			Model:        model,
			MaxTurns:     maxTurns,
		},
	}
}

// buildLLMClient resolves one configured provider into a concrete
// llm.Client. Only the Anthropic backend is wired in this build; any
// other provider name fails fast at startup rather than silently falling
// back, since a misconfigured provider should never surface as a runtime
// LLM error deep inside an investigation.
func buildLLMClient(name string, cfg config.LLMProviderConfig) (llm.Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnvVar)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: environment variable %s is not set", name, cfg.APIKeyEnvVar)
	}
	return llm.NewAnthropicClient(apiKey, cfg.BaseURL), nil
}

func main() {
	configPath := flag.String("config",
		getEnv("KOPSY_CONFIG", "./config/kopsy.yaml"),
		"Path to the kopsy.yaml configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("starting %s", version.Full())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", *configPath, err)
	}

	ctx := context.Background()

	dbConfig, err := database.ConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("connected to PostgreSQL, migrations applied")

	eventStore := store.NewPostgresStore(db)
	mux := stream.New(eventStore)

	registry := tools.NewRegistry()
	board := todo.NewBoard(cfg.TodoDir)
	orchestrator.RegisterTodoTools(registry, board)
	orchestrator.RegisterDirectTools(registry)

	signals := abort.NewRegistry()
	broker := approval.New(mux, signals)

	// The Specialist Agent Runtime is shared by the supervisor and every
	// specialist (pkg/orchestrator/specialists.go: "the supervisor is just
	// another Run call with a larger tool set"), so it carries a single
	// client — the one configured for SupervisorProvider. SpecialistProvider
	// still selects which provider's Model string specialists request;
	// if it names a different provider than SupervisorProvider, specialist
	// calls are still made through the supervisor's client/credentials,
	// only the requested model name changes.
	supervisorProviderCfg, ok := cfg.LLM.Providers[cfg.LLM.SupervisorProvider]
	if !ok {
		log.Fatalf("supervisor_provider %q is not defined in llm.providers", cfg.LLM.SupervisorProvider)
	}
	sharedClient, err := buildLLMClient(cfg.LLM.SupervisorProvider, supervisorProviderCfg)
	if err != nil {
		log.Fatalf("failed to build supervisor LLM client: %v", err)
	}
	runtime := agentrt.New(sharedClient, registry, broker, mux, signals)

	specialistProviderCfg, ok := cfg.LLM.Providers[cfg.LLM.SpecialistProvider]
	if !ok {
		log.Fatalf("specialist_provider %q is not defined in llm.providers", cfg.LLM.SpecialistProvider)
	}
	if cfg.LLM.SpecialistProvider != cfg.LLM.SupervisorProvider {
		slog.Warn("specialist_provider differs from supervisor_provider; specialists still run through the supervisor's client, only the model name differs",
			"supervisor_provider", cfg.LLM.SupervisorProvider, "specialist_provider", cfg.LLM.SpecialistProvider)
	}
	const specialistMaxTurns = 8
	orchestrator.RegisterSpecialists(registry, runtime, eventStore, mux, specialistSpecs(specialistProviderCfg.Model, specialistMaxTurns))

	summarizerProviderCfg, ok := cfg.LLM.Providers[cfg.LLM.SummarizerProvider]
	if !ok {
		log.Fatalf("summarizer_provider %q is not defined in llm.providers", cfg.LLM.SummarizerProvider)
	}
	summarizerClient, err := buildLLMClient(cfg.LLM.SummarizerProvider, summarizerProviderCfg)
	if err != nil {
		log.Fatalf("failed to build summarizer LLM client: %v", err)
	}
	summ := summarizer.New(summarizerClient, summarizerProviderCfg.Model)

	sup := orchestrator.New(eventStore, mux, runtime, broker, signals, summ, board, supervisorProviderCfg.Model, 40)

	var notifier *notify.Service
	if cfg.Features.SlackEnabled {
		notifier = notify.NewService(notify.ServiceConfig{
			Token:   os.Getenv("SLACK_BOT_TOKEN"),
			Channel: getEnv("SLACK_CHANNEL", ""),
		})
		if notifier == nil {
			slog.Warn("features.slack_enabled is true but SLACK_BOT_TOKEN or SLACK_CHANNEL is unset; Slack notifications disabled")
		}
	}

	go orchestrator.RunOrphanSweep(ctx, eventStore, mux, cfg.Queue.OrphanDetectionInterval, cfg.Queue.OrphanThreshold)

	server := api.NewServer(eventStore, mux, sup, broker, signals, notifier)
	router := gin.Default()
	server.RegisterRoutes(router)

	log.Printf("HTTP server listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
