// Command agenthost is the stdio agent runtime host: it
// loads one or more agent packages, then either serves the A2A JSON-RPC
// protocol over stdio (--a2a-stdio) or runs a single direct invocation
// (--invoke) against one loaded agent's JS bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/agenthost/internal/agent"
	"goa.design/agenthost/internal/external"
	"goa.design/agenthost/internal/graphstore/memstore"
	"goa.design/agenthost/internal/graphstore/mongostore"
	"goa.design/agenthost/internal/host"
	"goa.design/agenthost/internal/hostconfig"
	"goa.design/agenthost/internal/interceptor"
	"goa.design/agenthost/internal/jsbridge"
	"goa.design/agenthost/internal/llmexec"
	"goa.design/agenthost/internal/telemetry"
)

// stringList collects -package flags repeated across the command line.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("agenthost", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var packages stringList
	fs.Var(&packages, "package", "agent package directory (repeatable)")
	configPath := fs.String("config", "", "optional YAML config file")
	provenanceStore := fs.String("provenance-store", "memory", "provenance store backend: memory|graph")
	mongoURI := fs.String("mongo-uri", "", "MongoDB connection URI (provenance-store=graph)")
	mongoDB := fs.String("mongo-db", "agenthost", "MongoDB database name (provenance-store=graph)")
	llmProvider := fs.String("llm-provider", "", "model provider backing llm.complete: anthropic|openai|none")
	llmModel := fs.String("llm-model", "", "default model for the configured --llm-provider")
	nodeBin := fs.String("node-bin", "node", "node executable used to run each agent package's compiled entry point")
	a2aStdio := fs.Bool("a2a-stdio", false, "serve the A2A JSON-RPC protocol over stdio")
	invoke := fs.Bool("invoke", false, "run a single direct invocation: --invoke <agent> <function> <json-args>")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *configPath != "" {
		cfg, err := hostconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, "agenthost:", err)
			return 1
		}
		if len(packages) == 0 {
			packages = cfg.Packages
		}
		if *provenanceStore == "memory" && cfg.ProvenanceStore != "" {
			*provenanceStore = cfg.ProvenanceStore
		}
		if *mongoURI == "" {
			*mongoURI = cfg.Mongo.URI
		}
		if *mongoDB == "agenthost" && cfg.Mongo.DB != "" {
			*mongoDB = cfg.Mongo.DB
		}
		if *llmProvider == "" {
			*llmProvider = cfg.LLM.Provider
		}
		if *llmModel == "" {
			*llmModel = cfg.LLM.Model
		}
	}

	if len(packages) == 0 {
		fmt.Fprintln(stderr, "agenthost: at least one --package is required")
		return 1
	}

	ctx := context.Background()

	graph, err := buildGraphStore(ctx, *provenanceStore, *mongoURI, *mongoDB)
	if err != nil {
		fmt.Fprintln(stderr, "agenthost:", err)
		return 1
	}

	executor, err := buildExecutor(*llmProvider, *llmModel)
	if err != nil {
		fmt.Fprintln(stderr, "agenthost:", err)
		return 1
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOtelMetrics("agenthost")

	agents := make([]*agent.Agent, 0, len(packages))
	for _, dir := range packages {
		a, err := loadAgent(ctx, dir, *nodeBin, graph, executor, logger, metrics)
		if err != nil {
			fmt.Fprintln(stderr, "agenthost: load package", dir, ":", err)
			return 1
		}
		agents = append(agents, a)
	}

	h, err := host.New(agents, nil)
	if err != nil {
		fmt.Fprintln(stderr, "agenthost:", err)
		return 1
	}

	switch {
	case *invoke:
		return runInvoke(ctx, h, fs.Args(), stdout, stderr)
	case *a2aStdio:
		if err := h.Run(ctx, stdin, stdout); err != nil {
			fmt.Fprintln(stderr, "agenthost:", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintln(stderr, "agenthost: one of --a2a-stdio or --invoke is required")
		return 1
	}
}

func buildGraphStore(ctx context.Context, kind, uri, db string) (external.GraphStore, error) {
	switch kind {
	case "memory":
		return memstore.New(), nil
	case "graph":
		if uri == "" {
			return nil, fmt.Errorf("provenance-store=graph requires --mongo-uri")
		}
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		database := client.Database(db)
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return mongostore.New(database), nil
	default:
		return nil, fmt.Errorf("unknown --provenance-store %q (want memory or graph)", kind)
	}
}

// buildExecutor constructs the LlmExecutor backing llm.complete, or nil
// when no provider is configured. API keys come from each provider's usual
// environment variable, never from flags or the config file.
func buildExecutor(provider, model string) (external.LlmExecutor, error) {
	switch provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		return llmexec.NewAnthropicFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), model)
	case "openai":
		return llmexec.NewOpenAIFromAPIKey(os.Getenv("OPENAI_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unknown --llm-provider %q (want anthropic, openai, or none)", provider)
	}
}

func loadAgent(ctx context.Context, dir, nodeBin string, graph external.GraphStore, executor external.LlmExecutor, logger telemetry.Logger, metrics telemetry.Metrics) (*agent.Agent, error) {
	pkg, err := external.LoadAgentPackage(dir)
	if err != nil {
		return nil, err
	}

	bridge, err := jsbridge.Start(ctx, jsbridge.Options{NodeBin: nodeBin, EntryPoint: pkg.EntryPoint, Dir: pkg.Dir})
	if err != nil {
		return nil, err
	}

	return agent.Build(ctx, agent.Config{
		Package:      pkg,
		Bridge:       bridge,
		GraphStore:   graph,
		Executor:     executor,
		Interceptors: []interceptor.Interceptor{},
		Logger:       logger,
		Metrics:      metrics,
	})
}

func runInvoke(ctx context.Context, h *host.Host, positional []string, stdout, stderr io.Writer) int {
	if len(positional) < 2 {
		fmt.Fprintln(stderr, "agenthost: --invoke requires <agent> <function> [json-args]")
		return 2
	}
	agentName, function := positional[0], positional[1]
	argsJSON := ""
	if len(positional) > 2 {
		argsJSON = positional[2]
	}

	a := h.Agent(agentName)
	if a == nil {
		fmt.Fprintf(stderr, "agenthost: no such agent %q\n", agentName)
		return 2
	}

	result, err := a.Invoke(ctx, function, argsJSON)
	if err != nil {
		fmt.Fprintln(stderr, "agenthost:", err)
		return 2
	}
	fmt.Fprintf(stdout, "%v\n", result)
	return 0
}
