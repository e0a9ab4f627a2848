package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketdata-etl/internal/domain"
)

var ErrRepo = errors.New("repo error")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("cycle-%d", g.n)
}

type fakeSource struct {
	name    string
	secret  string
	payload []byte
	err     error
	calls   int
	gotKey  string
}

func (s *fakeSource) Name() string       { return s.name }
func (s *fakeSource) SecretName() string { return s.secret }

func (s *fakeSource) Fetch(_ context.Context, secret string) ([]byte, error) {
	s.calls++
	s.gotKey = secret
	return s.payload, s.err
}

// memDB is an in-memory store whose unit of work restores a snapshot when
// the wrapped function fails.
type memDB struct {
	mu     sync.Mutex
	quotes map[domain.QuoteKey]domain.QuoteRecord
	rates  map[domain.RateKey]domain.RateRecord
	// reject refuses records with this symbol or quote currency.
	reject string
	// delay is slept before each write, honouring ctx.
	delay time.Duration
}

func newMemDB() *memDB {
	return &memDB{quotes: map[domain.QuoteKey]domain.QuoteRecord{}, rates: map[domain.RateKey]domain.RateRecord{}}
}

func (m *memDB) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	qs := make(map[domain.QuoteKey]domain.QuoteRecord, len(m.quotes))
	for k, v := range m.quotes {
		qs[k] = v
	}
	rs := make(map[domain.RateKey]domain.RateRecord, len(m.rates))
	for k, v := range m.rates {
		rs[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.quotes, m.rates = qs, rs
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) wait(ctx context.Context) error {
	if m.delay == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return domain.StorageError("upsert", ctx.Err())
	case <-time.After(m.delay):
		return nil
	}
}

func (m *memDB) UpsertQuote(ctx context.Context, q domain.QuoteRecord) (domain.UpsertOutcome, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	if q.Symbol == m.reject {
		return 0, fmt.Errorf("%w: %s", domain.ErrRecordRejected, q)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.quotes[q.Key()]
	m.quotes[q.Key()] = q
	switch {
	case !ok:
		return domain.OutcomeInserted, nil
	case prev.Open.Equal(q.Open) && prev.High.Equal(q.High) && prev.Low.Equal(q.Low) &&
		prev.Close.Equal(q.Close) && prev.Volume == q.Volume:
		return domain.OutcomeUnchanged, nil
	default:
		return domain.OutcomeUpdated, nil
	}
}

func (m *memDB) UpsertRate(ctx context.Context, r domain.RateRecord) (domain.UpsertOutcome, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	if r.Quote == m.reject {
		return 0, fmt.Errorf("%w: %s", domain.ErrRecordRejected, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.rates[r.Key()]
	m.rates[r.Key()] = r
	switch {
	case !ok:
		return domain.OutcomeInserted, nil
	case prev.Rate.Equal(r.Rate):
		return domain.OutcomeUnchanged, nil
	default:
		return domain.OutcomeUpdated, nil
	}
}

func (m *memDB) ListQuotes(_ context.Context, f QuoteFilter) ([]domain.QuoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QuoteRecord
	for _, q := range m.quotes {
		if f.Symbol == "" || f.Symbol == q.Symbol {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memDB) ListRates(_ context.Context, f RateFilter) ([]domain.RateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RateRecord
	for _, r := range m.rates {
		out = append(out, r)
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type fakeJournal struct {
	mu   sync.Mutex
	runs map[string]domain.CycleRun
	ids  []string
	err  error
}

func (j *fakeJournal) StartCycle(_ context.Context, run domain.CycleRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.runs == nil {
		j.runs = map[string]domain.CycleRun{}
	}
	j.runs[run.ID] = run
	j.ids = append(j.ids, run.ID)
	return nil
}

func (j *fakeJournal) FinishCycle(ctx context.Context, run domain.CycleRun) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if _, ok := j.runs[run.ID]; !ok {
		return ErrNotFound
	}
	j.runs[run.ID] = run
	return nil
}

func (j *fakeJournal) ListCycles(_ context.Context, c domain.Cadence, limit int) ([]domain.CycleRun, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.CycleRun
	for i := len(j.ids) - 1; i >= 0 && len(out) < limit; i-- {
		r := j.runs[j.ids[i]]
		if c == "" || r.Cadence == c {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *fakeJournal) get(id string) domain.CycleRun {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs[id]
}

type fakeWatermarks struct {
	mu sync.Mutex
	wm map[domain.Cadence]time.Time
}

func (f *fakeWatermarks) GetWatermark(_ context.Context, c domain.Cadence) (domain.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Watermark{Cadence: c, LastSuccessAt: f.wm[c]}, nil
}

func (f *fakeWatermarks) AdvanceWatermark(_ context.Context, c domain.Cadence, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wm == nil {
		f.wm = map[domain.Cadence]time.Time{}
	}
	if at.After(f.wm[c]) {
		f.wm[c] = at
	}
	return nil
}

func (f *fakeWatermarks) ListWatermarks(_ context.Context) ([]domain.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Watermark, 0, len(domain.Cadences))
	for _, c := range domain.Cadences {
		out = append(out, domain.Watermark{Cadence: c, LastSuccessAt: f.wm[c]})
	}
	return out, nil
}
