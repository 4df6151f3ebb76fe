package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultHistoryBound is the number of conversation turns retained per user.
const DefaultHistoryBound = 50

// timeNow is stubbed in tests.
var timeNow = time.Now

// ErrNoPendingTurn is returned when a turn resolution finds no matching
// pending turn, e.g. after the turn aged out of the history bound.
var ErrNoPendingTurn = errors.New("memory: no pending turn")

// CorruptRecordError reports a record file that failed to decode. The file
// has already been moved aside to QuarantinePath; a subsequent Load starts
// the user fresh.
type CorruptRecordError struct {
	UserID         string
	Path           string
	QuarantinePath string
	Err            error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("memory: corrupt record for user %s (quarantined to %s): %v", e.UserID, e.QuarantinePath, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// Usage summarizes disk consumption of the store directory.
type Usage struct {
	Users     int   `json:"users"`
	Files     int   `json:"files"`
	TotalSize int64 `json:"total_size"`
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryBound overrides the default conversation history bound.
func WithHistoryBound(n int) Option {
	return func(s *Store) { s.historyBound = n }
}

// Store is a file-backed store of per-user memory records. Each user owns
// one JSON file; every mutation is a load-modify-save under a per-user
// mutex, and the save replaces the file atomically. Within one process the
// store is safe for concurrent use. Cross-process writers are not
// coordinated; deployments should give each process its own directory.
type Store struct {
	dir          string
	historyBound int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("memory: init directory %s: %w", dir, err)
	}
	s := &Store{
		dir:          dir,
		historyBound: DefaultHistoryBound,
		locks:        map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// userLock returns the mutex guarding one user's record, creating it on
// first use. Locks are never removed; the population is bounded by the
// number of distinct users seen by this process.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("memory: user id cannot be empty")
	}
	if strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return fmt.Errorf("memory: invalid user id %q", userID)
	}
	return nil
}

func (s *Store) recordPath(userID string) string {
	return filepath.Join(s.dir, "user_"+userID+"_memory.json")
}

// Load returns the record for userID, or a fresh empty record when none
// exists yet. A record file that cannot be decoded is quarantined by
// renaming it aside, and the failure is surfaced as a *CorruptRecordError;
// the next Load starts fresh rather than blocking the user forever.
func (s *Store) Load(userID string) (*Record, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	path := s.recordPath(userID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newRecord(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read record for user %s: %w", userID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt.%d", path, timeNow().Unix())
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			quarantine = path
		}
		return nil, &CorruptRecordError{UserID: userID, Path: path, QuarantinePath: quarantine, Err: err}
	}
	rec.UserID = userID
	rec.normalize()
	return &rec, nil
}

// Save persists rec for userID, stamping UpdatedAt. The write goes through
// a temp file and rename so a crash mid-write leaves the previous record
// intact.
func (s *Store) Save(userID string, rec *Record) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	rec.UserID = userID
	rec.UpdatedAt = timeNow()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encode record for user %s: %w", userID, err)
	}

	path := s.recordPath(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("memory: write record for user %s: %w", userID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("memory: commit record for user %s: %w", userID, err)
	}
	return nil
}

// update runs fn against the user's current record under the per-user lock
// and saves the result.
func (s *Store) update(userID string, fn func(*Record) error) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.Load(userID)
	if err != nil {
		// A corrupt record has already been quarantined by the load;
		// surface it so the caller knows the history was reset. The next
		// mutation starts fresh.
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.Save(userID, rec)
}

// AddTurn appends a new conversation turn with a fresh id and the response
// still pending, trimming history to the bound (oldest turns drop first).
// The returned turn carries the id needed to resolve or fail it later.
func (s *Store) AddTurn(userID, userMessage, businessType, location string) (ConversationTurn, error) {
	turn := ConversationTurn{
		ID:                ulid.Make().String(),
		UserMessage:       userMessage,
		AssistantResponse: PendingResponse,
		BusinessType:      businessType,
		Location:          location,
		Timestamp:         timeNow(),
	}
	err := s.update(userID, func(rec *Record) error {
		rec.ConversationHistory = append(rec.ConversationHistory, turn)
		if over := len(rec.ConversationHistory) - s.historyBound; over > 0 {
			rec.ConversationHistory = rec.ConversationHistory[over:]
		}
		return nil
	})
	if err != nil {
		return ConversationTurn{}, err
	}
	return turn, nil
}

// SetResponse resolves the pending turn with the given id, scanning the
// history from most recent backwards, overwriting its response and
// timestamp. Resolving a turn that is missing or already resolved returns
// ErrNoPendingTurn.
func (s *Store) SetResponse(userID, turnID, response string) error {
	return s.update(userID, func(rec *Record) error {
		for i := len(rec.ConversationHistory) - 1; i >= 0; i-- {
			t := &rec.ConversationHistory[i]
			if t.ID == turnID {
				if !t.Pending() {
					return ErrNoPendingTurn
				}
				t.AssistantResponse = response
				t.Timestamp = timeNow()
				return nil
			}
		}
		return ErrNoPendingTurn
	})
}

// SaveResearch stores a research record under its subject key, replacing
// any earlier run for the same subject.
func (s *Store) SaveResearch(userID string, rec ResearchRecord) error {
	return s.update(userID, func(r *Record) error {
		r.ResearchData[SubjectKey(rec.BusinessType, rec.Location)] = rec
		return nil
	})
}

// SaveCityOpportunities stores a city opportunity snapshot keyed by the
// lowercased city name.
func (s *Store) SaveCityOpportunities(userID string, snap CityOpportunitySnapshot) error {
	return s.update(userID, func(r *Record) error {
		r.CityOpportunities[normalizePart(snap.City)] = snap
		return nil
	})
}

// SaveScrapedData stores a scraped-data summary under its subject key.
func (s *Store) SaveScrapedData(userID string, sum ScrapedDataSummary) error {
	return s.update(userID, func(r *Record) error {
		r.ScrapedData[SubjectKey(sum.BusinessType, sum.Location)] = sum
		return nil
	})
}

// SetDatasetPath records the path of the user's most recent uploaded
// dataset.
func (s *Store) SetDatasetPath(userID, path string) error {
	return s.update(userID, func(r *Record) error {
		r.DatasetPath = path
		return nil
	})
}

// dumpDir is the directory holding one user's research dump files. Each
// user owns a directory of their own so clearing one user can never touch
// another user's dumps, even when one user id is a prefix of another.
func (s *Store) dumpDir(userID string) string {
	return filepath.Join(s.dir, "research", userID)
}

// WriteResearchDump writes the full research payload for one run under the
// user's dump directory, so heavy raw data stays out of the record itself.
// Returns the path written.
func (s *Store) WriteResearchDump(userID, businessType, location string, payload any) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("memory: encode research dump for user %s: %w", userID, err)
	}
	dir := s.dumpDir(userID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("memory: init dump directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, SubjectKey(businessType, location)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("memory: write research dump %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("memory: commit research dump %s: %w", path, err)
	}
	return path, nil
}

// Clear deletes the user's record along with auxiliary files: the user's
// research dump directory and the uploaded dataset, if any. Clearing a
// user with no record is a no-op.
func (s *Store) Clear(userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	// Best effort read for the dataset path; a corrupt record still clears.
	if rec, err := s.Load(userID); err == nil && rec.DatasetPath != "" {
		_ = os.Remove(rec.DatasetPath)
	}

	if err := os.RemoveAll(s.dumpDir(userID)); err != nil {
		return fmt.Errorf("memory: clear research dumps for user %s: %w", userID, err)
	}

	if err := os.Remove(s.recordPath(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("memory: clear record for user %s: %w", userID, err)
	}
	return nil
}

// Usage reports how much disk the store directory occupies, dump
// subdirectories included, and how many users it holds.
func (s *Store) Usage() (Usage, error) {
	var u Usage
	err := filepath.WalkDir(s.dir, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		u.Files++
		u.TotalSize += info.Size()
		name := de.Name()
		if strings.HasPrefix(name, "user_") && strings.HasSuffix(name, "_memory.json") {
			u.Users++
		}
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("memory: walk directory %s: %w", s.dir, err)
	}
	return u, nil
}
