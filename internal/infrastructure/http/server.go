package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"
	"marketdata-etl/internal/infrastructure/worker"

	"go.uber.org/zap"
)

// Reader is the read side the API serves from.
type Reader interface {
	Quotes(ctx context.Context, f application.QuoteFilter) ([]domain.QuoteRecord, error)
	Rates(ctx context.Context, f application.RateFilter) ([]domain.RateRecord, error)
	Cycles(ctx context.Context, c domain.Cadence, limit int) ([]domain.CycleRun, error)
	Watermarks(ctx context.Context) ([]domain.Watermark, error)
}

// StatusSource reports live scheduler state. It is nil when the API runs
// without a scheduler in the same process.
type StatusSource interface {
	Status() []worker.CadenceStatus
}

type Server struct {
	q      Reader
	status StatusSource
	ping   func(ctx context.Context) error
}

func NewServer(q Reader, status StatusSource) *Server { return &Server{q: q, status: status} }

func (s *Server) SetReadyCheck(fn func(ctx context.Context) error) { s.ping = fn }

type quoteJSON struct {
	Symbol     string    `json:"symbol"`
	ObservedAt time.Time `json:"observed_at"`
	Open       string    `json:"open"`
	High       string    `json:"high"`
	Low        string    `json:"low"`
	Close      string    `json:"close"`
	Volume     int64     `json:"volume"`
}

type rateJSON struct {
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	Rate         string `json:"rate"`
	ObservedDate string `json:"observed_date"`
}

type cycleJSON struct {
	ID         string     `json:"id"`
	Cadence    string     `json:"cadence"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Fetched    int        `json:"fetched"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Rejected   int        `json:"rejected"`
	Error      *string    `json:"error,omitempty"`
}

type cadenceJSON struct {
	worker.CadenceStatus
	LastSuccessAt *time.Time `json:"last_success_at"`
	Stale         bool       `json:"stale"`
}

func (s *Server) listQuotes(w http.ResponseWriter, r *http.Request) {
	f := application.QuoteFilter{Symbol: r.URL.Query().Get("symbol")}
	var err error
	if f.From, f.To, f.Limit, err = rangeParams(r); err != nil {
		badRequest(w, err.Error())
		return
	}
	recs, err := s.q.Quotes(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]quoteJSON, 0, len(recs))
	for _, q := range recs {
		out = append(out, quoteJSON{
			Symbol:     q.Symbol,
			ObservedAt: q.ObservedAt,
			Open:       q.Open.String(),
			High:       q.High.String(),
			Low:        q.Low.String(),
			Close:      q.Close.String(),
			Volume:     q.Volume,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRates(w http.ResponseWriter, r *http.Request) {
	f := application.RateFilter{Base: r.URL.Query().Get("base"), Quote: r.URL.Query().Get("quote")}
	var err error
	if f.From, f.To, f.Limit, err = rangeParams(r); err != nil {
		badRequest(w, err.Error())
		return
	}
	recs, err := s.q.Rates(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]rateJSON, 0, len(recs))
	for _, rr := range recs {
		out = append(out, rateJSON{
			Base:         rr.Base,
			Quote:        rr.Quote,
			Rate:         rr.Rate.String(),
			ObservedDate: rr.ObservedDate.Format(time.DateOnly),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	runs, err := s.q.Cycles(r.Context(), domain.Cadence(r.URL.Query().Get("cadence")), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]cycleJSON, 0, len(runs))
	for _, c := range runs {
		out = append(out, cycleJSON{
			ID:         c.ID,
			Cadence:    string(c.Cadence),
			Trigger:    c.Trigger,
			Status:     string(c.Status),
			StartedAt:  c.StartedAt,
			FinishedAt: c.FinishedAt,
			Fetched:    c.Fetched,
			Inserted:   c.Result.Inserted,
			Updated:    c.Result.Updated,
			Skipped:    c.Result.Skipped,
			Rejected:   c.Result.Rejected,
			Error:      c.Error,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCadences(w http.ResponseWriter, r *http.Request) {
	wms, err := s.q.Watermarks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	byCadence := make(map[domain.Cadence]domain.Watermark, len(wms))
	for _, wm := range wms {
		byCadence[wm.Cadence] = wm
	}
	live := map[domain.Cadence]worker.CadenceStatus{}
	if s.status != nil {
		for _, st := range s.status.Status() {
			live[st.Cadence] = st
		}
	}
	now := time.Now()
	out := make([]cadenceJSON, 0, len(domain.Cadences))
	for _, c := range domain.Cadences {
		st, ok := live[c]
		if !ok {
			st = worker.CadenceStatus{Cadence: c}
		}
		wm, ok := byCadence[c]
		if !ok {
			wm = domain.Watermark{Cadence: c}
		}
		item := cadenceJSON{CadenceStatus: st, Stale: wm.Stale(now)}
		if !wm.LastSuccessAt.IsZero() {
			at := wm.LastSuccessAt
			item.LastSuccessAt = &at
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, application.ErrBadRequest):
		badRequest(w, err.Error())
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	default:
		logx.L().Error("http.query_failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", getTraceIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func rangeParams(r *http.Request) (from, to time.Time, limit int, err error) {
	if from, err = timeParam(r, "from"); err != nil {
		return
	}
	if to, err = timeParam(r, "to"); err != nil {
		return
	}
	limit, err = intParam(r, "limit")
	return
}

// timeParam accepts RFC3339 or a bare date.
func timeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

type errorJSON struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Code: status, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}
