// Package main provides the compass CLI, a market intelligence assistant
// for small business founders. It researches markets, scans cities for
// opportunities, ingests user datasets, and chats with full memory of a
// user's previous interactions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/compass/pkg/cache"
	appconfig "github.com/entrhq/compass/pkg/config"
	"github.com/entrhq/compass/pkg/llm"
	"github.com/entrhq/compass/pkg/llm/openai"
	"github.com/entrhq/compass/pkg/llm/tokenizer"
	"github.com/entrhq/compass/pkg/logging"
	"github.com/entrhq/compass/pkg/memory"
	"github.com/entrhq/compass/pkg/research"
	"github.com/entrhq/compass/pkg/scrape"
	"github.com/entrhq/compass/pkg/session"
)

const version = "0.1.0"

// Config holds the parsed command line.
type Config struct {
	ConfigPath  string
	UserID      string
	Research    string
	Location    string
	ScanCity    string
	Chat        string
	Ingest      string
	ClearMemory bool
	ShowStats   bool
	ShowVersion bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("compass v%s\n", version)
		return
	}

	if err := config.validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, config); err != nil {
		cancel()
		log.Fatalf("Application error: %v", err)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.ConfigPath, "config", "", "Path to compass.yaml (default: ~/.compass/compass.yaml)")
	flag.StringVar(&config.UserID, "user", "default", "User id owning the memory record")
	flag.StringVar(&config.Research, "research", "", "Run market research for this business type (requires -location)")
	flag.StringVar(&config.Location, "location", "", "Location for -research")
	flag.StringVar(&config.ScanCity, "scan-city", "", "Scan a city for business opportunities")
	flag.StringVar(&config.Chat, "chat", "", "Send one chat message")
	flag.StringVar(&config.Ingest, "ingest", "", "Ingest a CSV dataset")
	flag.BoolVar(&config.ClearMemory, "clear", false, "Clear the user's memory record and auxiliary files")
	flag.BoolVar(&config.ShowStats, "stats", false, "Show memory and cache statistics")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Compass - market intelligence assistant\n\n")
		fmt.Fprintf(os.Stderr, "Usage: compass [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CEREBRAS_API_KEY    Cerebras key for the primary LLM backend\n")
		fmt.Fprintf(os.Stderr, "  GROQ_API_KEY        Groq key for the fallback LLM backend\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY      OpenAI key for the last hosted fallback\n")
		fmt.Fprintf(os.Stderr, "  SEARCHAPI_API_KEY   SearchAPI key for live data collection\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  compass -user alice -research bakery -location pune\n")
		fmt.Fprintf(os.Stderr, "  compass -user alice -scan-city pune\n")
		fmt.Fprintf(os.Stderr, "  compass -user alice -chat \"should I open a second branch?\"\n")
		fmt.Fprintf(os.Stderr, "  compass -user alice -ingest sales.csv\n")
	}

	flag.Parse()
	return config
}

func (c *Config) validate() error {
	if c.Research != "" && c.Location == "" {
		return fmt.Errorf("-research requires -location")
	}
	actions := 0
	for _, set := range []bool{c.Research != "", c.ScanCity != "", c.Chat != "", c.Ingest != "", c.ClearMemory, c.ShowStats} {
		if set {
			actions++
		}
	}
	if actions == 0 {
		return fmt.Errorf("nothing to do: pass one of -research, -scan-city, -chat, -ingest, -clear, -stats")
	}
	if actions > 1 {
		return fmt.Errorf("pass exactly one action flag")
	}
	return nil
}

func run(ctx context.Context, config *Config) error {
	cfg, err := appconfig.Load(config.ConfigPath)
	if err != nil {
		return err
	}

	logger, logErr := logging.NewLogger("compass")
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", logErr)
	}
	defer logger.Close()

	store, err := memory.NewStore(cfg.Memory.Dir, memory.WithHistoryBound(cfg.Memory.HistoryBound))
	if err != nil {
		return err
	}
	resultCache, err := cache.New(cfg.Cache.Dir,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMaxEntries(cfg.Cache.MaxEntries))
	if err != nil {
		return err
	}

	assemblerOpts := []memory.AssemblerOption{}
	if tok, tokErr := tokenizer.New(); tokErr == nil {
		assemblerOpts = append(assemblerOpts, memory.WithTokenCounter(tok))
	} else {
		logger.Warnf("tokenizer unavailable, using character estimate: %v", tokErr)
	}
	assembler := memory.NewAssembler(assemblerOpts...)

	provider := buildProviderChain(cfg, logger)
	collector := buildCollector(cfg, logger)

	agent := research.NewAgent(collector, provider, resultCache, store, logger)
	sess := session.NewSession(store, assembler, provider,
		session.WithTimeout(cfg.Session.Timeout),
		session.WithLogger(logger),
		session.WithDataDir(cfg.Session.DataDir))

	switch {
	case config.Research != "":
		return runResearch(ctx, agent, config)
	case config.ScanCity != "":
		return runCityScan(ctx, agent, config)
	case config.Chat != "":
		reply, err := sess.Chat(ctx, config.UserID, config.Chat, "", "")
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	case config.Ingest != "":
		analysis, err := sess.Ingest(ctx, config.UserID, config.Ingest)
		if err != nil {
			return err
		}
		fmt.Println(analysis)
		return nil
	case config.ClearMemory:
		if err := store.Clear(config.UserID); err != nil {
			return err
		}
		fmt.Printf("Cleared memory for user %s\n", config.UserID)
		return nil
	case config.ShowStats:
		return printStats(store, resultCache)
	}
	return nil
}

// buildProviderChain assembles the LLM fallback chain from the configured
// credentials: Cerebras first, then Groq, then OpenAI, with the
// deterministic stub as the terminal link.
func buildProviderChain(cfg appconfig.Config, logger *logging.Logger) llm.Provider {
	var providers []llm.Provider
	if cfg.LLM.CerebrasAPIKey != "" {
		if p, err := openai.NewCerebras(cfg.LLM.CerebrasAPIKey); err == nil {
			providers = append(providers, p)
		}
	}
	if cfg.LLM.GroqAPIKey != "" {
		if p, err := openai.NewGroq(cfg.LLM.GroqAPIKey); err == nil {
			providers = append(providers, p)
		}
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		if p, err := openai.NewProvider(cfg.LLM.OpenAIAPIKey); err == nil {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		logger.Warnf("no LLM credentials configured, responses come from the offline stub")
	}
	providers = append(providers, llm.NewStub())
	return llm.NewChain(providers...)
}

// buildCollector picks the live SearchAPI collector when a key is
// configured and mock mode is off, otherwise the deterministic mock.
func buildCollector(cfg appconfig.Config, logger *logging.Logger) scrape.Collector {
	if cfg.Scrape.UseMock || cfg.Scrape.SearchAPIKey == "" {
		logger.Infof("using mock data collector")
		return scrape.NewMockCollector()
	}
	client, err := scrape.NewSearchAPIClient(cfg.Scrape.SearchAPIKey)
	if err != nil {
		logger.Warnf("SearchAPI client unavailable, using mock collector: %v", err)
		return scrape.NewMockCollector()
	}
	return client
}

func runResearch(ctx context.Context, agent *research.Agent, config *Config) error {
	rep, err := agent.Conduct(ctx, config.UserID, config.Research, config.Location)
	if err != nil {
		return err
	}
	if rep.FromCache {
		fmt.Println("(served from cache)")
	}
	fmt.Printf("Market research: %s in %s\n\n", config.Research, config.Location)
	fmt.Printf("Competitors:       %d (%s saturation)\n", rep.TotalCompetitors, rep.MarketSaturation)
	fmt.Printf("Average rating:    %.1f\n", rep.AverageRating)
	fmt.Printf("Search interest:   %s\n", rep.TrendMomentum)
	fmt.Printf("Investment range:  %s\n", rep.InvestmentRange)
	fmt.Printf("Confidence:        %.2f\n\n", rep.Confidence)
	for _, opp := range rep.KeyOpportunities {
		fmt.Printf("  - %s\n", opp)
	}
	fmt.Printf("\n%s\n", rep.ExecutiveSummary)
	return nil
}

func runCityScan(ctx context.Context, agent *research.Agent, config *Config) error {
	rep, err := agent.ScanCity(ctx, config.UserID, config.ScanCity)
	if err != nil {
		return err
	}
	if rep.FromCache {
		fmt.Println("(served from cache)")
	}
	fmt.Printf("Opportunity scan: %s\n\n", config.ScanCity)
	for i, opp := range rep.Opportunities {
		fmt.Printf("%2d. %-12s score %.2f (%d competitors, %s interest)\n",
			i+1, opp.BusinessType, opp.OpportunityScore, opp.Competitors, opp.TrendMomentum)
	}
	return nil
}

func printStats(store *memory.Store, resultCache *cache.ResultCache) error {
	usage, err := store.Usage()
	if err != nil {
		return err
	}
	stats := resultCache.Stats()
	fmt.Printf("Memory:  %d users, %d files, %d bytes\n", usage.Users, usage.Files, usage.TotalSize)
	fmt.Printf("Cache:   %d entries (%d valid, %d expired), %d bytes\n",
		stats.Count, stats.ValidCount, stats.ExpiredCount, stats.TotalSize)
	return nil
}
