package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/compass/pkg/cache"
	"github.com/entrhq/compass/pkg/llm"
	"github.com/entrhq/compass/pkg/logging"
	"github.com/entrhq/compass/pkg/memory"
	"github.com/entrhq/compass/pkg/scrape"
	"github.com/entrhq/compass/pkg/types"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

const (
	placesLimit = 25

	researchKind = "research"
	cityScanKind = "city_scan"
)

// cityScanBusinessTypes are the candidate businesses evaluated by a city
// opportunity scan.
var cityScanBusinessTypes = []string{
	"cafe", "bakery", "gym", "salon", "pharmacy", "bookstore",
}

// Agent runs research workflows. Results flow through the result cache
// and into the user's memory record so later conversation turns can build
// on them.
type Agent struct {
	collector scrape.Collector
	provider  llm.Provider
	cache     *cache.ResultCache
	store     *memory.Store
	logger    *logging.Logger
}

// NewAgent wires a research agent. logger may be nil.
func NewAgent(collector scrape.Collector, provider llm.Provider, c *cache.ResultCache, store *memory.Store, logger *logging.Logger) *Agent {
	return &Agent{
		collector: collector,
		provider:  provider,
		cache:     c,
		store:     store,
		logger:    logger,
	}
}

func (a *Agent) logf(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Infof(format, v...)
	}
}

func (a *Agent) warnf(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Warnf(format, v...)
	}
}

// Conduct runs a full research pass for a business type in a location on
// behalf of userID. A fresh cached report for the same subject is served
// directly; otherwise data is collected, metrics derived, a narrative
// generated, and the result cached and written into the user's memory.
func (a *Agent) Conduct(ctx context.Context, userID, businessType, location string) (*Report, error) {
	key := cache.Key(businessType, location, researchKind)

	var cached Report
	if a.cache.GetValidated(key, businessType, location, &cached) {
		a.logf("research: cache hit for %s in %s", businessType, location)
		cached.FromCache = true
		return &cached, nil
	}

	a.logf("research: collecting data for %s in %s", businessType, location)
	places, err := a.collector.SearchPlaces(ctx, businessType, location, placesLimit)
	if err != nil {
		return nil, fmt.Errorf("research: collect places for %s in %s: %w", businessType, location, err)
	}
	trends, err := a.collector.SearchTrends(ctx, businessType, location)
	if err != nil {
		// Trends are enriching, not essential. Proceed without them.
		a.warnf("research: trends unavailable for %s in %s: %v", businessType, location, err)
		trends = nil
	}

	saturation := saturationFor(len(places))
	momentum := momentumFor(trends)
	avgRating := averageRating(places)

	narrative, err := a.generateNarrative(ctx, businessType, location, places, trends, saturation, momentum, avgRating)
	if err != nil {
		return nil, fmt.Errorf("research: generate narrative: %w", err)
	}

	rep := &Report{
		Metadata: Metadata{
			Subject:     businessType,
			Qualifier:   location,
			GeneratedAt: timeNow(),
		},
		ExecutiveSummary: narrative,
		TotalCompetitors: len(places),
		AverageRating:    avgRating,
		MarketSaturation: saturation,
		TrendMomentum:    momentum,
		InvestmentRange:  investmentRangeFor(places),
		KeyOpportunities: opportunitiesFor(saturation, momentum, avgRating),
		Confidence:       extractConfidence(narrative),
		Places:           places,
		Trends:           trends,
	}

	if err := a.cache.Put(key, rep); err != nil {
		a.warnf("research: cache write failed: %v", err)
	}
	if err := a.persist(userID, rep); err != nil {
		return nil, err
	}
	a.logf("research: completed %s in %s (%d competitors, %s saturation, confidence %.2f)",
		businessType, location, rep.TotalCompetitors, rep.MarketSaturation, rep.Confidence)
	return rep, nil
}

func (a *Agent) generateNarrative(ctx context.Context, businessType, location string, places []types.Place, trends []types.TrendPoint, saturation, momentum string, avgRating float64) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the market for opening a %s in %s.\n\n", businessType, location)
	fmt.Fprintf(&b, "Collected data:\n")
	fmt.Fprintf(&b, "- Competitors found: %d (%s saturation)\n", len(places), saturation)
	fmt.Fprintf(&b, "- Average competitor rating: %.1f\n", avgRating)
	fmt.Fprintf(&b, "- Search interest over the last %d weeks: %s\n", len(trends), momentum)
	for i, p := range places {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- Notable competitor: %s (rating %.1f, %d reviews)\n", p.Name, p.Rating, p.ReviewCount)
	}
	b.WriteString("\nWrite a concise executive summary with a go or no-go leaning, the main risks, ")
	b.WriteString("and the opportunities. End with a line \"Confidence: <0..1>\".")

	msg, err := a.provider.Complete(ctx, []*types.Message{
		types.NewSystemMessage("You are a market intelligence analyst advising small business founders. Be specific and grounded in the data provided."),
		types.NewUserMessage(b.String()),
	})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// persist writes the report into the user's memory record: the summary
// row, the scraped-data summary, and the full dump file.
func (a *Agent) persist(userID string, rep *Report) error {
	if err := a.store.SaveResearch(userID, memory.ResearchRecord{
		BusinessType:     rep.Metadata.Subject,
		Location:         rep.Metadata.Qualifier,
		Timestamp:        rep.Metadata.GeneratedAt,
		ExecutiveSummary: rep.ExecutiveSummary,
		TotalCompetitors: rep.TotalCompetitors,
		MarketSaturation: rep.MarketSaturation,
		AverageRating:    rep.AverageRating,
		InvestmentRange:  rep.InvestmentRange,
		KeyOpportunities: rep.KeyOpportunities,
		Confidence:       rep.Confidence,
	}); err != nil {
		return fmt.Errorf("research: save summary: %w", err)
	}

	if err := a.store.SaveScrapedData(userID, memory.ScrapedDataSummary{
		BusinessType:     rep.Metadata.Subject,
		Location:         rep.Metadata.Qualifier,
		Timestamp:        rep.Metadata.GeneratedAt,
		TotalBusinesses:  rep.TotalCompetitors,
		AverageRating:    rep.AverageRating,
		DataFreshness:    "fresh",
		TotalTrendPoints: len(rep.Trends),
		InterestTrend:    rep.TrendMomentum,
	}); err != nil {
		return fmt.Errorf("research: save scraped summary: %w", err)
	}

	if _, err := a.store.WriteResearchDump(userID, rep.Metadata.Subject, rep.Metadata.Qualifier, rep); err != nil {
		return fmt.Errorf("research: write dump: %w", err)
	}
	return nil
}

// ScanCity evaluates the candidate business types for a city and ranks
// them by opportunity. The snapshot lands in the user's memory record and
// the full report in the cache.
func (a *Agent) ScanCity(ctx context.Context, userID, city string) (*CityReport, error) {
	key := cache.Key(city, "opportunities", cityScanKind)

	var cached CityReport
	if a.cache.GetValidated(key, city, "opportunities", &cached) {
		a.logf("research: city scan cache hit for %s", city)
		cached.FromCache = true
		return &cached, nil
	}

	var opps []CityOpportunity
	for _, businessType := range cityScanBusinessTypes {
		places, err := a.collector.SearchPlaces(ctx, businessType, city, placesLimit)
		if err != nil {
			return nil, fmt.Errorf("research: scan %s in %s: %w", businessType, city, err)
		}
		trends, err := a.collector.SearchTrends(ctx, businessType, city)
		if err != nil {
			a.warnf("research: trends unavailable for %s in %s: %v", businessType, city, err)
			trends = nil
		}
		momentum := momentumFor(trends)
		opps = append(opps, CityOpportunity{
			BusinessType:     businessType,
			Competitors:      len(places),
			TrendMomentum:    momentum,
			OpportunityScore: opportunityScore(len(places), momentum),
		})
	}
	sort.Slice(opps, func(i, j int) bool {
		if opps[i].OpportunityScore != opps[j].OpportunityScore {
			return opps[i].OpportunityScore > opps[j].OpportunityScore
		}
		return opps[i].BusinessType < opps[j].BusinessType
	})

	rep := &CityReport{
		Metadata: Metadata{
			Subject:     city,
			Qualifier:   "opportunities",
			GeneratedAt: timeNow(),
		},
		City:          city,
		Opportunities: opps,
	}

	if err := a.cache.Put(key, rep); err != nil {
		a.warnf("research: cache write failed: %v", err)
	}

	top := make([]string, 0, 3)
	trendLines := make([]string, 0, 3)
	for i, o := range opps {
		if i >= 3 {
			break
		}
		top = append(top, o.BusinessType)
		trendLines = append(trendLines, fmt.Sprintf("%s interest is %s", o.BusinessType, o.TrendMomentum))
	}
	if err := a.store.SaveCityOpportunities(userID, memory.CityOpportunitySnapshot{
		City:               city,
		Timestamp:          rep.Metadata.GeneratedAt,
		TotalOpportunities: len(opps),
		TopRecommendations: top,
		MarketTrends:       trendLines,
	}); err != nil {
		return nil, fmt.Errorf("research: save city snapshot: %w", err)
	}

	a.logf("research: city scan completed for %s (%d candidates)", city, len(opps))
	return rep, nil
}

// opportunityScore weighs sparse competition and rising interest. Scores
// fall in [0, 1].
func opportunityScore(competitors int, momentum string) float64 {
	comp := float64(competitors)
	if comp > 30 {
		comp = 30
	}
	score := (1 - comp/30) * 0.6
	switch momentum {
	case MomentumRising:
		score += 0.4
	case MomentumStable:
		score += 0.2
	}
	return score
}
