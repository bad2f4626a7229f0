package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"scout/internal/core"
)

// MemoryDB is an in-memory Database used by tests and local development.
// It mirrors the Postgres implementation's observable behavior, including
// nil returns for missing rows and replay ordering of feedback events.
type MemoryDB struct {
	mu sync.RWMutex

	UsersByID     map[string]core.User
	PrimaryUserID string
	TopicsByID    map[string]core.Topic
	SourcesByID   map[string]core.Source
	Items         []WindowItem // pre-joined window rows, filtered at query time
	DigestsByID   map[string]core.Digest
	DigestItems   map[string][]core.DigestItem
	ProfilesByKey map[string]core.PreferenceProfile // userID+"/"+topicID
	Events        []core.FeedbackEvent
	Calls         []core.ProviderCall
	Runs          map[string]core.AbtestRun
	RunItems      map[string][]core.AbtestItem
	Results       []core.AbtestResult

	// FailStorage forces every write to return a storage error, for
	// failure-path tests.
	FailStorage bool
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		UsersByID:     make(map[string]core.User),
		TopicsByID:    make(map[string]core.Topic),
		SourcesByID:   make(map[string]core.Source),
		DigestsByID:   make(map[string]core.Digest),
		DigestItems:   make(map[string][]core.DigestItem),
		ProfilesByKey: make(map[string]core.PreferenceProfile),
		Runs:          make(map[string]core.AbtestRun),
		RunItems:      make(map[string][]core.AbtestItem),
	}
}

func (m *MemoryDB) storageErr() error {
	if m.FailStorage {
		return core.NewError(core.ErrKindStorage, "memory database failure injected", nil)
	}
	return nil
}

func (m *MemoryDB) Users() UserRepository                 { return (*memUserRepo)(m) }
func (m *MemoryDB) Topics() TopicRepository               { return (*memTopicRepo)(m) }
func (m *MemoryDB) Sources() SourceRepository             { return (*memSourceRepo)(m) }
func (m *MemoryDB) Candidates() CandidateRepository       { return (*memCandidateRepo)(m) }
func (m *MemoryDB) Digests() DigestRepository             { return (*memDigestRepo)(m) }
func (m *MemoryDB) Profiles() ProfileRepository           { return (*memProfileRepo)(m) }
func (m *MemoryDB) Feedback() FeedbackRepository          { return (*memFeedbackRepo)(m) }
func (m *MemoryDB) ProviderCalls() ProviderCallRepository { return (*memProviderCallRepo)(m) }
func (m *MemoryDB) Abtests() AbtestRepository             { return (*memAbtestRepo)(m) }

func (m *MemoryDB) Ping(ctx context.Context) error { return nil }
func (m *MemoryDB) Close() error                   { return nil }

type memUserRepo MemoryDB

func (r *memUserRepo) Get(ctx context.Context, id string) (*core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.UsersByID[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *memUserRepo) GetPrimary(ctx context.Context) (*core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.UsersByID[r.PrimaryUserID]; ok {
		return &u, nil
	}
	return nil, nil
}

type memTopicRepo MemoryDB

func (r *memTopicRepo) Get(ctx context.Context, id string) (*core.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.TopicsByID[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *memTopicRepo) ListByUser(ctx context.Context, userID string) ([]core.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var topics []core.Topic
	for _, t := range r.TopicsByID {
		if t.UserID == userID {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

type memSourceRepo MemoryDB

func (r *memSourceRepo) WeightsByTopic(ctx context.Context, topicID string) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	weights := make(map[string]float64)
	for _, s := range r.SourcesByID {
		if s.TopicID == topicID && s.Enabled {
			weights[s.ID] = s.Weight
		}
	}
	return weights, nil
}

type memCandidateRepo MemoryDB

func (r *memCandidateRepo) ListWindowItems(ctx context.Context, topicID string, start, end time.Time) ([]WindowItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WindowItem
	for _, it := range r.Items {
		src, ok := r.SourcesByID[it.SourceID]
		if !ok || src.TopicID != topicID || !src.Enabled {
			continue
		}
		at := it.CandidateAt()
		if at.Before(start) || !at.Before(end) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *memCandidateRepo) RecentEmbeddings(ctx context.Context, topicID string, limit int) ([][]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]WindowItem, 0, len(r.Items))
	for _, it := range r.Items {
		if src, ok := r.SourcesByID[it.SourceID]; ok && src.TopicID == topicID && it.Embedding != nil {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CandidateAt().After(items[j].CandidateAt()) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([][]float64, len(items))
	for i, it := range items {
		out[i] = it.Embedding
	}
	return out, nil
}

func (r *memCandidateRepo) ItemEmbedding(ctx context.Context, contentItemID string) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.Items {
		if it.ContentItemID == contentItemID {
			return it.Embedding, nil
		}
	}
	return nil, nil
}

type memDigestRepo MemoryDB

func (r *memDigestRepo) Create(ctx context.Context, d *core.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.DigestsByID[d.ID] = *d
	return nil
}

func (r *memDigestRepo) Get(ctx context.Context, id string) (*core.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.DigestsByID[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (r *memDigestRepo) FindByWindow(ctx context.Context, userID, topicID string, start, end time.Time, mode string) (*core.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.DigestsByID {
		if d.UserID == userID && d.TopicID == topicID && d.WindowStart.Equal(start) && d.WindowEnd.Equal(end) && d.Mode == mode {
			found := d
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memDigestRepo) FindLatest(ctx context.Context, userID, topicID string) (*core.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *core.Digest
	for _, d := range r.DigestsByID {
		if d.UserID != userID || d.TopicID != topicID {
			continue
		}
		if latest == nil || d.WindowEnd.After(latest.WindowEnd) {
			found := d
			latest = &found
		}
	}
	return latest, nil
}

func (r *memDigestRepo) UpdateStatus(ctx context.Context, id, status, errText string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	d, ok := r.DigestsByID[id]
	if !ok {
		return core.NewError(core.ErrKindStorage, "digest not found: "+id, nil)
	}
	d.Status = status
	d.Error = errText
	d.CompletedAt = completedAt
	r.DigestsByID[id] = d
	return nil
}

func (r *memDigestRepo) Complete(ctx context.Context, d *core.Digest, items []core.DigestItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.DigestsByID[d.ID] = *d
	r.DigestItems[d.ID] = append([]core.DigestItem(nil), items...)
	return nil
}

func (r *memDigestRepo) ListItems(ctx context.Context, digestID string) ([]core.DigestItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.DigestItem(nil), r.DigestItems[digestID]...), nil
}

func (r *memDigestRepo) List(ctx context.Context, userID string, limit int) ([]core.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var digests []core.Digest
	for _, d := range r.DigestsByID {
		if d.UserID == userID {
			digests = append(digests, d)
		}
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i].CreatedAt.After(digests[j].CreatedAt) })
	if limit > 0 && len(digests) > limit {
		digests = digests[:limit]
	}
	return digests, nil
}

type memProfileRepo MemoryDB

func (r *memProfileRepo) Get(ctx context.Context, userID, topicID string) (*core.PreferenceProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.ProfilesByKey[userID+"/"+topicID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *memProfileRepo) Upsert(ctx context.Context, p *core.PreferenceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.ProfilesByKey[p.UserID+"/"+p.TopicID] = *p
	return nil
}

type memFeedbackRepo MemoryDB

func (r *memFeedbackRepo) Insert(ctx context.Context, e *core.FeedbackEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.Events = append(r.Events, *e)
	return nil
}

func (r *memFeedbackRepo) ListByUserTopic(ctx context.Context, userID, topicID string) ([]core.FeedbackEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var events []core.FeedbackEvent
	for _, e := range r.Events {
		if e.UserID == userID && e.TopicID == topicID {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (r *memFeedbackRepo) Get(ctx context.Context, id string) (*core.FeedbackEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.Events {
		if e.ID == id {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memFeedbackRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	for i, e := range r.Events {
		if e.ID == id {
			r.Events = append(r.Events[:i], r.Events[i+1:]...)
			return nil
		}
	}
	return nil
}

type memProviderCallRepo MemoryDB

func (r *memProviderCallRepo) Insert(ctx context.Context, c *core.ProviderCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.Calls = append(r.Calls, *c)
	return nil
}

func (r *memProviderCallRepo) SumCostInRange(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, c := range r.Calls {
		if c.UserID == userID && !c.CreatedAt.Before(start) && c.CreatedAt.Before(end) {
			total += c.CostCredits
		}
	}
	return total, nil
}

type memAbtestRepo MemoryDB

func (r *memAbtestRepo) CreateRun(ctx context.Context, run *core.AbtestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.Runs[run.ID] = *run
	return nil
}

func (r *memAbtestRepo) UpdateRunStatus(ctx context.Context, runID, status string, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	run, ok := r.Runs[runID]
	if !ok {
		return core.NewError(core.ErrKindStorage, "abtest run not found: "+runID, nil)
	}
	run.Status = status
	run.FinishedAt = finishedAt
	r.Runs[runID] = run
	return nil
}

func (r *memAbtestRepo) GetRun(ctx context.Context, runID string) (*core.AbtestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if run, ok := r.Runs[runID]; ok {
		return &run, nil
	}
	return nil, nil
}

func (r *memAbtestRepo) InsertItem(ctx context.Context, item *core.AbtestItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.RunItems[item.RunID] = append(r.RunItems[item.RunID], *item)
	return nil
}

func (r *memAbtestRepo) InsertResult(ctx context.Context, res *core.AbtestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := (*MemoryDB)(r).storageErr(); err != nil {
		return err
	}
	r.Results = append(r.Results, *res)
	return nil
}

func (r *memAbtestRepo) ListResults(ctx context.Context, runID string) ([]core.AbtestResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []core.AbtestResult
	for _, res := range r.Results {
		if res.RunID == runID {
			results = append(results, res)
		}
	}
	return results, nil
}
