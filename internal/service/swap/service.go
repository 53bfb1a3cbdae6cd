// Package swap aggregates quotes across swap providers and routes process
// steps to the provider that issued the selected quote.
package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	core "github.com/mrz1836/harvest/internal/swap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Config holds the configuration for the swap service.
type Config struct {
	// Providers in preference order. The first successful quote wins.
	Providers []core.Provider
	Pairs     []core.Pair
	// QuoteTimeout bounds one provider's quote call. Zero means no bound.
	QuoteTimeout time.Duration
	Logger       core.LogWriter
	Metrics      MetricsRecorder
	Now          func() time.Time
	NewID        func() string
}

// Service is the swap entry point.
type Service struct {
	providers    []core.Provider
	byID         map[core.ProviderID]core.Provider
	pairs        []core.Pair
	quoteTimeout time.Duration
	logger       core.LogWriter
	metrics      MetricsRecorder
	now          func() time.Time
	newID        func() string
}

// NewService creates a new swap service.
func NewService(cfg *Config) *Service {
	s := &Service{
		byID:         make(map[core.ProviderID]core.Provider, len(cfg.Providers)),
		pairs:        append([]core.Pair(nil), cfg.Pairs...),
		quoteTimeout: cfg.QuoteTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	for _, p := range cfg.Providers {
		if p == nil {
			continue
		}
		if _, dup := s.byID[p.Slug()]; dup {
			continue
		}
		s.providers = append(s.providers, p)
		s.byID[p.Slug()] = p
	}
	if s.logger == nil {
		s.logger = core.NopLogger()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Providers describes the registered providers in preference order.
func (s *Service) Providers() []core.ProviderInfo {
	out := make([]core.ProviderInfo, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.Info())
	}
	return out
}

// Provider returns the provider registered under id.
func (s *Service) Provider(id core.ProviderID) (core.Provider, error) {
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	ids := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		ids = append(ids, string(p.Slug()))
	}
	return nil, harvesterr.Suggest(harvesterr.Wrap(harvesterr.ErrProviderNotFound, "%s", id), string(id), ids)
}

// Pairs lists the configured swap pairs.
func (s *Service) Pairs() []core.Pair {
	return append([]core.Pair(nil), s.pairs...)
}

// Pair finds a configured pair by slug.
func (s *Service) Pair(slug string) (core.Pair, bool) {
	for _, p := range s.pairs {
		if p.Slug == slug {
			return p, true
		}
	}
	return core.Pair{}, false
}

// AskProvidersForQuote asks every provider concurrently. Providers that are
// not ready are initialized first. Results keep provider order.
func (s *Service) AskProvidersForQuote(ctx context.Context, req *core.Request) []core.QuoteResult {
	results := make([]core.QuoteResult, len(s.providers))
	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			results[i] = s.ask(ctx, p, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) ask(ctx context.Context, p core.Provider, req *core.Request) (res core.QuoteResult) {
	res.Provider = p.Slug()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("quote %s panicked: %v", res.Provider, r)
			res.Quote, res.Err = nil, harvesterr.Tx(harvesterr.CodeSwapUnknown, "")
		}
		s.metrics.RecordQuote(string(res.Provider), res.Err)
	}()

	if s.quoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.quoteTimeout)
		defer cancel()
	}

	if !p.IsReady() {
		if err := p.Init(ctx); err != nil {
			s.logger.Error("init %s: %v", res.Provider, err)
			res.Err = harvesterr.Tx(harvesterr.CodeErrorFetchingQuote, "")
			return res
		}
	}

	quote, err := p.GetSwapQuote(ctx, req)
	switch {
	case err != nil:
		s.logger.Debug("quote %s: %v", res.Provider, err)
		res.Err = err
	case quote == nil:
		res.Err = harvesterr.Tx(harvesterr.CodeSwapUnknown, "")
	default:
		res.Quote = quote
	}
	return res
}

// GetLatestQuotes collects quotes and selects the optimal one. Without any
// quote the response carries the most specific provider error.
func (s *Service) GetLatestQuotes(ctx context.Context, req *core.Request) (*core.QuoteResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil swap request", harvesterr.ErrInvalidParams)
	}
	if req.Pair.Slug == "" {
		req.Pair.Slug = core.PairSlug(req.Pair.From, req.Pair.To)
	}

	results := s.AskProvidersForQuote(ctx, req)
	deadline := s.now().Add(core.DefaultQuoteTimeout).UnixMilli()
	resp := &core.QuoteResponse{
		Quotes:     []core.Quote{},
		AliveUntil: deadline,
	}
	for _, r := range results {
		if r.Err != nil || r.Quote == nil {
			continue
		}
		q := *r.Quote
		if q.AliveUntil <= 0 {
			q.AliveUntil = deadline
		}
		resp.Quotes = append(resp.Quotes, q)
	}

	if len(resp.Quotes) > 0 {
		optimal := resp.Quotes[0]
		resp.OptimalQuote = &optimal
		resp.AliveUntil = optimal.AliveUntil
		return resp, nil
	}

	resp.Error = preferredError(results)
	return resp, nil
}

// preferredError picks the first error that says more than UNKNOWN or
// ASSET_NOT_SUPPORTED, falling back to the first error at all.
func preferredError(results []core.QuoteResult) error {
	var fallback error
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		switch harvesterr.Code(r.Err) {
		case harvesterr.CodeSwapUnknown, harvesterr.CodeAssetNotSupported:
			if fallback == nil {
				fallback = r.Err
			}
		default:
			return r.Err
		}
	}
	return fallback
}

// GenerateOptimalProcess asks the quote's provider for its process. Without
// a quote or a known provider the default [DEFAULT, SWAP] process is used.
func (s *Service) GenerateOptimalProcess(ctx context.Context, params *core.ProcessParams) (*core.Process, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil process params", harvesterr.ErrInvalidParams)
	}

	var process *core.Process
	if params.SelectedQuote != nil {
		if p, ok := s.byID[params.SelectedQuote.Provider.ID]; ok {
			var err error
			if process, err = p.GenerateOptimalProcess(ctx, params); err != nil {
				return nil, err
			}
		}
	}
	if process == nil {
		from, err := fromSlug(params)
		if err != nil {
			return nil, err
		}
		process = core.DefaultProcess(from)
	}
	process.ID = s.newID()
	return process, nil
}

func fromSlug(params *core.ProcessParams) (string, error) {
	switch {
	case params.Request != nil:
		return params.Request.Pair.From, nil
	case params.SelectedQuote != nil:
		return params.SelectedQuote.Pair.From, nil
	}
	return "", fmt.Errorf("%w: process without request", harvesterr.ErrInvalidParams)
}

// HandleSwapRequest fetches quotes and the process for the optimal one.
func (s *Service) HandleSwapRequest(ctx context.Context, req *core.Request) (*core.RequestResult, error) {
	quotes, err := s.GetLatestQuotes(ctx, req)
	if err != nil {
		return nil, err
	}
	process, err := s.GenerateOptimalProcess(ctx, &core.ProcessParams{Request: req, SelectedQuote: quotes.OptimalQuote})
	if err != nil {
		return nil, err
	}
	return &core.RequestResult{Process: process, Quote: quotes}, nil
}

// ValidateSwapProcess delegates to the quote's provider.
func (s *Service) ValidateSwapProcess(ctx context.Context, params *core.ValidateParams) harvesterr.ErrorList {
	if params == nil || params.SelectedQuote == nil {
		return harvesterr.ErrorList{harvesterr.Tx(harvesterr.CodeInternalError, "")}
	}
	p, ok := s.byID[params.SelectedQuote.Provider.ID]
	if !ok {
		return harvesterr.ErrorList{harvesterr.Tx(harvesterr.CodeInternalError, "")}
	}
	return p.ValidateSwapProcess(ctx, params)
}

// HandleSwapProcess builds the transaction of the current step. Incomplete
// processes and expired quotes are rejected before the provider is called.
func (s *Service) HandleSwapProcess(ctx context.Context, params *core.SubmitParams) (*core.StepData, error) {
	if params == nil || params.Process == nil || params.Quote == nil {
		return nil, fmt.Errorf("%w: incomplete submission", harvesterr.ErrInternal)
	}
	if len(params.Process.Steps) <= 1 {
		return nil, harvesterr.Tx(harvesterr.CodeInternalError, harvesterr.ErrProcessIncomplete.Message)
	}
	if params.Quote.Expired(s.now()) {
		return nil, harvesterr.Tx(harvesterr.CodeQuoteTimeout, "")
	}
	p, ok := s.byID[params.Quote.Provider.ID]
	if !ok {
		return nil, harvesterr.Tx(harvesterr.CodeInternalError, "")
	}

	data, err := p.HandleSwapProcess(ctx, params)
	s.metrics.RecordSwapStep(string(p.Slug()), err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// NewRunner returns a runner that executes processes through this service.
func (s *Service) NewRunner(signer core.Signer) *core.Runner {
	return core.NewRunner(s, signer, s.logger)
}
