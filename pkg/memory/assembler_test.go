package memory

import (
	"strings"
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 12, 0, 0, 0, time.UTC)
}

func resolvedTurn(msg, resp, businessType, location string, ts time.Time) ConversationTurn {
	return ConversationTurn{
		ID:                msg,
		UserMessage:       msg,
		AssistantResponse: resp,
		BusinessType:      businessType,
		Location:          location,
		Timestamp:         ts,
	}
}

func TestBuildContextEmptyRecord(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	if got := a.BuildContext(rec, nil); got != NoDataPlaceholder {
		t.Errorf("BuildContext = %q, want placeholder", got)
	}
}

func TestBuildContextDeterministic(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	for i, subject := range []string{"bakery", "salon", "gym", "cafe"} {
		rec.ResearchData[subject+"_pune"] = ResearchRecord{
			BusinessType:     subject,
			Location:         "pune",
			Timestamp:        day(i + 1),
			ExecutiveSummary: "summary for " + subject,
			TotalCompetitors: i + 10,
		}
	}
	rec.ConversationHistory = append(rec.ConversationHistory,
		resolvedTurn("q1", "a1", "bakery", "pune", day(5)))

	first := a.BuildContext(rec, nil)
	for i := 0; i < 10; i++ {
		if got := a.BuildContext(rec, nil); got != first {
			t.Fatal("BuildContext output varies across calls on the same record")
		}
	}
}

func TestBuildContextSectionBounds(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")

	subjects := []string{"bakery", "salon", "gym", "cafe", "hotel"}
	for i, subject := range subjects {
		rec.ResearchData[subject+"_pune"] = ResearchRecord{
			BusinessType: subject, Location: "pune", Timestamp: day(i + 1),
			ExecutiveSummary: "summary", TotalCompetitors: 5,
		}
	}

	got := a.BuildContext(rec, nil)
	// Only the three most recent research subjects appear.
	for _, newer := range []string{"gym", "cafe", "hotel"} {
		if !strings.Contains(got, newer+" in pune") {
			t.Errorf("recent subject %q missing from context", newer)
		}
	}
	for _, older := range []string{"bakery", "salon"} {
		if strings.Contains(got, older+" in pune") {
			t.Errorf("old subject %q should have been dropped", older)
		}
	}
}

func TestBuildContextConversationBoundAndOrder(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	msgs := []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}
	for i, m := range msgs {
		rec.ConversationHistory = append(rec.ConversationHistory,
			resolvedTurn(m, "answer to "+m, "bakery", "pune", day(i+1)))
	}

	got := a.BuildContext(rec, nil)
	if strings.Contains(got, "User: q1") || strings.Contains(got, "User: q2") {
		t.Error("turns beyond the bound should be dropped")
	}
	for _, m := range msgs[2:] {
		if !strings.Contains(got, "User: "+m) {
			t.Errorf("recent turn %q missing", m)
		}
	}
	// Chronological order preserved.
	if strings.Index(got, "User: q3") > strings.Index(got, "User: q7") {
		t.Error("conversation section out of order")
	}
}

func TestBuildContextSubjectFilter(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	rec.ConversationHistory = []ConversationTurn{
		resolvedTurn("about bakeries", "bakery answer", "bakery", "pune", day(1)),
		resolvedTurn("about salons", "salon answer", "salon", "mumbai", day(2)),
	}

	got := a.BuildContext(rec, &SubjectFilter{BusinessType: "Bakery", Location: " Pune "})
	if !strings.Contains(got, "about bakeries") {
		t.Error("matching turn filtered out")
	}
	if strings.Contains(got, "about salons") {
		t.Error("non-matching turn leaked through the filter")
	}
}

func TestBuildContextSkipsPendingTurns(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	rec.ConversationHistory = []ConversationTurn{
		resolvedTurn("done", "a fine answer", "", "", day(1)),
		{ID: "p", UserMessage: "in flight", AssistantResponse: PendingResponse, Timestamp: day(2)},
	}

	got := a.BuildContext(rec, nil)
	if strings.Contains(got, "in flight") || strings.Contains(got, PendingResponse) {
		t.Error("pending turn leaked into context")
	}
	if !strings.Contains(got, "done") {
		t.Error("resolved turn missing")
	}
}

func TestBuildContextUploadSentinel(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	rec.ConversationHistory = []ConversationTurn{
		{ID: "u", UserMessage: UploadSentinel, AssistantResponse: "Your dataset shows 42 rows.", Timestamp: day(1)},
	}

	got := a.BuildContext(rec, nil)
	if strings.Contains(got, UploadSentinel) {
		t.Error("sentinel string leaked into context")
	}
	if !strings.Contains(got, "Dataset analysis: Your dataset shows 42 rows.") {
		t.Errorf("upload analysis missing from context:\n%s", got)
	}
}

func TestBuildContextTruncatesLongSummaries(t *testing.T) {
	a := NewAssembler()
	rec := newRecord("alice")
	long := strings.Repeat("x", 1000)
	rec.ResearchData["bakery_pune"] = ResearchRecord{
		BusinessType: "bakery", Location: "pune", Timestamp: day(1),
		ExecutiveSummary: long,
	}

	got := a.BuildContext(rec, nil)
	if strings.Contains(got, long) {
		t.Error("long summary not truncated")
	}
	if !strings.Contains(got, "...") {
		t.Error("truncation marker missing")
	}

	// Same input, same cut point.
	if a.BuildContext(rec, nil) != got {
		t.Error("truncation is not stable")
	}
}

func TestBuildContextOverallBound(t *testing.T) {
	a := NewAssembler(WithMaxContextChars(200))
	rec := newRecord("alice")
	for i := 0; i < 5; i++ {
		rec.ConversationHistory = append(rec.ConversationHistory,
			resolvedTurn(strings.Repeat("q", 150), strings.Repeat("a", 150), "", "", day(i+1)))
	}

	got := a.BuildContext(rec, nil)
	if len([]rune(got)) > 200 {
		t.Errorf("context length %d exceeds bound", len([]rune(got)))
	}
}

type fixedCounter struct{ n int }

func (f fixedCounter) CountTokens(string) int { return f.n }

func TestEstimateTokens(t *testing.T) {
	withCounter := NewAssembler(WithTokenCounter(fixedCounter{n: 77}))
	if got := withCounter.EstimateTokens("anything"); got != 77 {
		t.Errorf("EstimateTokens = %d, want 77", got)
	}

	fallback := NewAssembler()
	if got := fallback.EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("fallback estimate = %d, want 100", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate passthrough = %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate = %q, want abcde...", got)
	}
	if got := truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("truncate multibyte = %q", got)
	}
}
