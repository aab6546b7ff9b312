package poller

import (
	"context"
	"time"

	"github.com/goldpoll/goldpoll/internal/source"
	"github.com/goldpoll/goldpoll/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// escalateAfter is the number of consecutive failed cycles of one source
// after which the failure log is escalated from warn to error.
const escalateAfter = 5

// Poller runs the acquisition loop: at a fixed interval it asks the
// configured sources for fresh prices in priority order, merges whatever
// subset came back into the store and goes back to sleep. A cycle where
// every source fails leaves the store untouched. The loop ends only when
// the context is canceled.
type Poller struct {
	sources   []source.Source
	store     storage.Store
	terminal  *storage.Terminal
	assets    []string
	interval  time.Duration
	srcBudget time.Duration

	consecutiveFails map[string]int
}

// New creates a poller over the given sources in fallback priority order.
// Assets is the allow-list: a source returning a key outside it is
// dropped, so the store never grows unbounded.
func New(sources []source.Source, store storage.Store, terminal *storage.Terminal, assets []string, interval, srcBudget time.Duration) *Poller {
	return &Poller{
		sources:          sources,
		store:            store,
		terminal:         terminal,
		assets:           assets,
		interval:         interval,
		srcBudget:        srcBudget,
		consecutiveFails: make(map[string]int),
	}
}

// Run executes the poll loop until ctx is canceled. The first cycle runs
// immediately, recoverable failures never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Int("sources", len(p.sources)).Strs("assets", p.assets).Dur("interval", p.interval).Msg("poller started")

	p.cycle(ctx)

	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.cycle(ctx)
		case <-ctx.Done():
			log.Info().Msg("ctx canceled, poller stopped")
			return ctx.Err()
		}
	}
}

// cycle asks each source for the assets still missing this cycle. An
// earlier, higher priority source wins per asset within one cycle.
func (p *Poller) cycle(ctx context.Context) {
	union := map[string]float64{}
	won := map[string]string{}

	for _, src := range p.sources {
		remaining := p.remaining(union)
		if len(remaining) == 0 {
			break
		}

		prices, err := p.fetch(ctx, src, remaining)
		if err != nil {
			p.consecutiveFails[src.Name()]++
			fails := p.consecutiveFails[src.Name()]
			if fails >= escalateAfter {
				log.Error().Err(err).Str("source", src.Name()).Int("consecutive_fails", fails).Msg("source keeps failing")
			} else {
				log.Warn().Err(err).Str("source", src.Name()).Msg("source failed this cycle")
			}
			continue
		}
		p.consecutiveFails[src.Name()] = 0

		for asset, price := range prices {
			if _, done := union[asset]; done {
				continue
			}
			if !p.allowed(asset) {
				log.Debug().Str("source", src.Name()).Str("asset", asset).Msg("dropping asset outside allow-list")
				continue
			}
			union[asset] = price
			won[asset] = src.Name()
		}
	}

	if len(union) == 0 {
		log.Warn().Msg("no source returned data, store left untouched")
		return
	}

	if err := p.store.MergeAndSave(ctx, union); err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return
	}

	now := time.Now().UTC()
	quotes := make([]storage.Quote, 0, len(union))
	for asset, price := range union {
		log.Info().Str("asset", asset).Str("source", won[asset]).Float64("price", price).Time("at", now).Msg("updated price")
		quotes = append(quotes, storage.Quote{Asset: asset, Price: price, Source: won[asset], Timestamp: now})
	}
	if p.terminal != nil {
		p.terminal.CommitQuotes(quotes)
	}
}

// fetch runs one source under the per-source time budget. A panic inside
// a source counts as that source failing the cycle, not as a crash.
func (p *Poller) fetch(ctx context.Context, src source.Source, assets []string) (prices map[string]float64, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.srcBudget)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			prices = nil
			err = errors.Errorf("source %v panicked: %v", src.Name(), r)
		}
	}()
	return src.Fetch(fetchCtx, assets)
}

// remaining returns the allow-listed assets not yet satisfied this cycle.
func (p *Poller) remaining(union map[string]float64) []string {
	out := make([]string, 0, len(p.assets))
	for _, asset := range p.assets {
		if _, done := union[asset]; !done {
			out = append(out, asset)
		}
	}
	return out
}

func (p *Poller) allowed(asset string) bool {
	for _, a := range p.assets {
		if a == asset {
			return true
		}
	}
	return false
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
