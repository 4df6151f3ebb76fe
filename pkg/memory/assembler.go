package memory

import (
	"fmt"
	"sort"
	"strings"
)

// NoDataPlaceholder is returned when a user has no stored context at all.
const NoDataPlaceholder = "No previous data available for this user."

// Default selection bounds for each context section.
const (
	defaultMaxResearch = 3
	defaultMaxCities   = 2
	defaultMaxScraped  = 3
	defaultMaxTurns    = 5

	summaryLimit  = 400
	responseLimit = 800
	messageLimit  = 200

	defaultMaxContextChars = 6000
)

// TokenCounter estimates the token footprint of a string. Satisfied by
// tokenizer.Tokenizer.
type TokenCounter interface {
	CountTokens(text string) int
}

// SubjectFilter restricts the conversation section to turns about one
// business type and location.
type SubjectFilter struct {
	BusinessType string
	Location     string
}

func (f *SubjectFilter) matches(t *ConversationTurn) bool {
	if f == nil {
		return true
	}
	return normalizePart(t.BusinessType) == normalizePart(f.BusinessType) &&
		normalizePart(t.Location) == normalizePart(f.Location)
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithTokenCounter supplies a tokenizer for EstimateTokens. Without one
// the estimate falls back to a chars/4 heuristic.
func WithTokenCounter(tc TokenCounter) AssemblerOption {
	return func(a *Assembler) { a.counter = tc }
}

// WithMaxContextChars overrides the overall context length bound.
func WithMaxContextChars(n int) AssemblerOption {
	return func(a *Assembler) { a.maxContextChars = n }
}

// Assembler renders a user's record into the bounded context string fed to
// the LLM ahead of each request. The output is deterministic for a given
// record: map sections are ordered by timestamp with the key as tiebreak,
// never by map iteration order.
type Assembler struct {
	maxResearch     int
	maxCities       int
	maxScraped      int
	maxTurns        int
	maxContextChars int
	counter         TokenCounter
}

// NewAssembler returns an assembler with the default section bounds.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		maxResearch:     defaultMaxResearch,
		maxCities:       defaultMaxCities,
		maxScraped:      defaultMaxScraped,
		maxTurns:        defaultMaxTurns,
		maxContextChars: defaultMaxContextChars,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildContext renders rec into the context string. filter, when non-nil,
// restricts the conversation section to turns about the given subject; the
// research, city, and scraped sections always show the user's recent
// activity across subjects. Returns NoDataPlaceholder when nothing
// qualifies.
func (a *Assembler) BuildContext(rec *Record, filter *SubjectFilter) string {
	var sections []string

	if sec := a.researchSection(rec); sec != "" {
		sections = append(sections, sec)
	}
	if sec := a.citySection(rec); sec != "" {
		sections = append(sections, sec)
	}
	if sec := a.scrapedSection(rec); sec != "" {
		sections = append(sections, sec)
	}
	if sec := a.conversationSection(rec, filter); sec != "" {
		sections = append(sections, sec)
	}

	if len(sections) == 0 {
		return NoDataPlaceholder
	}
	out := strings.Join(sections, "\n\n")
	return truncate(out, a.maxContextChars)
}

// EstimateTokens reports the approximate token footprint of an assembled
// context string.
func (a *Assembler) EstimateTokens(context string) int {
	if a.counter != nil {
		return a.counter.CountTokens(context)
	}
	return len(context) / 4
}

func (a *Assembler) researchSection(rec *Record) string {
	recs := recentByTime(rec.ResearchData, a.maxResearch,
		func(r ResearchRecord) int64 { return r.Timestamp.UnixNano() })
	if len(recs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous market research:")
	for _, r := range recs {
		fmt.Fprintf(&b, "\n- %s in %s (%s): %d competitors, %s saturation, avg rating %.1f. %s",
			r.BusinessType, r.Location, r.Timestamp.Format("2006-01-02"),
			r.TotalCompetitors, r.MarketSaturation, r.AverageRating,
			truncate(r.ExecutiveSummary, summaryLimit))
	}
	return b.String()
}

func (a *Assembler) citySection(rec *Record) string {
	snaps := recentByTime(rec.CityOpportunities, a.maxCities,
		func(s CityOpportunitySnapshot) int64 { return s.Timestamp.UnixNano() })
	if len(snaps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("City opportunity scans:")
	for _, s := range snaps {
		fmt.Fprintf(&b, "\n- %s (%s): %d opportunities",
			s.City, s.Timestamp.Format("2006-01-02"), s.TotalOpportunities)
		if len(s.TopRecommendations) > 0 {
			fmt.Fprintf(&b, "; top picks: %s", truncate(strings.Join(s.TopRecommendations, ", "), summaryLimit))
		}
	}
	return b.String()
}

func (a *Assembler) scrapedSection(rec *Record) string {
	sums := recentByTime(rec.ScrapedData, a.maxScraped,
		func(s ScrapedDataSummary) int64 { return s.Timestamp.UnixNano() })
	if len(sums) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Collected market data:")
	for _, s := range sums {
		fmt.Fprintf(&b, "\n- %d %s listings in %s, avg rating %.1f, %d trend points (%s interest, %s)",
			s.TotalBusinesses, s.BusinessType, s.Location, s.AverageRating,
			s.TotalTrendPoints, s.InterestTrend, s.DataFreshness)
	}
	return b.String()
}

func (a *Assembler) conversationSection(rec *Record, filter *SubjectFilter) string {
	var lines []string
	for i := range rec.ConversationHistory {
		t := &rec.ConversationHistory[i]
		if t.Pending() {
			continue
		}
		if t.UserMessage == UploadSentinel {
			// Dataset ingestion turns carry no real user message, but the
			// analysis produced at upload time is still useful context.
			if t.AssistantResponse != "" {
				lines = append(lines, "Dataset analysis: "+truncate(t.AssistantResponse, responseLimit))
			}
			continue
		}
		if !filter.matches(t) {
			continue
		}
		lines = append(lines,
			"User: "+truncate(t.UserMessage, messageLimit),
			"Assistant: "+truncate(t.AssistantResponse, responseLimit))
	}
	// Trim to the most recent turns. Paired lines count as one turn,
	// dataset analysis lines as one.
	turns := pairCount(lines)
	for turns > a.maxTurns {
		if strings.HasPrefix(lines[0], "User: ") {
			lines = lines[2:]
		} else {
			lines = lines[1:]
		}
		turns--
	}
	if len(lines) == 0 {
		return ""
	}
	return "Recent conversation:\n" + strings.Join(lines, "\n")
}

func pairCount(lines []string) int {
	n := 0
	for _, l := range lines {
		if !strings.HasPrefix(l, "Assistant: ") {
			n++
		}
	}
	return n
}

// recentByTime returns up to limit values from m ordered oldest to newest
// by the extracted timestamp, with the map key breaking ties so output is
// stable across runs.
func recentByTime[V any](m map[string]V, limit int, ts func(V) int64) []V {
	type keyed struct {
		key string
		val V
	}
	all := make([]keyed, 0, len(m))
	for k, v := range m {
		all = append(all, keyed{key: k, val: v})
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := ts(all[i].val), ts(all[j].val)
		if ti != tj {
			return ti < tj
		}
		return all[i].key < all[j].key
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]V, 0, len(all))
	for _, kv := range all {
		out = append(out, kv.val)
	}
	return out
}

// truncate caps s at limit runes, marking the cut with an ellipsis. The
// cut point depends only on the input, never on when it runs.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
