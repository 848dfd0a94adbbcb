package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"dealhunter/internal/cache"
	"dealhunter/internal/catalog"
	"dealhunter/internal/decision"
	"dealhunter/internal/executor"
	"dealhunter/internal/models"
	"dealhunter/internal/notify"
	"dealhunter/internal/services"
)

// Fallback policies for a failed probe. The default never substitutes
// data for a failed probe; last_known reuses the previous cached
// observation for the decision only.
const (
	FallbackSkip      = "skip"
	FallbackLastKnown = "last_known"
)

// ErrNoEnabledRetailer rejects a manual scrape against an item with no
// enabled listing matching the request.
var ErrNoEnabledRetailer = errors.New("no matching enabled retailer")

// IntentSink receives purchase intents produced by buy verdicts.
type IntentSink interface {
	Submit(executor.Intent) (*models.Purchase, error)
}

// TierStats aggregates one tier run for observability.
type TierStats struct {
	Pairs     int `json:"pairs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Orchestrator fans probes out over the eligible (item, retailer)
// pairs of a tier, records results and feeds the decision engine.
type Orchestrator struct {
	catalog  catalog.Catalog
	provider services.Provider
	cache    *cache.Store
	sink     IntentSink
	notifier notify.Notifier
	logger   *log.Logger
	fallback string
}

func New(cat catalog.Catalog, provider services.Provider, store *cache.Store, sink IntentSink, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Orchestrator{
		catalog:  cat,
		provider: provider,
		cache:    store,
		sink:     sink,
		notifier: notifier,
		logger:   log.New(os.Stdout, "[Monitor] ", log.LstdFlags),
		fallback: FallbackSkip,
	}
}

// SetFallback selects the failed-probe policy.
func (o *Orchestrator) SetFallback(policy string) {
	if policy == FallbackLastKnown {
		o.fallback = FallbackLastKnown
		return
	}
	o.fallback = FallbackSkip
}

// SetLogger replaces the orchestrator's logger.
func (o *Orchestrator) SetLogger(l *log.Logger) { o.logger = l }

type pair struct {
	item     models.TrackedItem
	retailer models.ItemRetailer
}

// RunTier probes every eligible pair in the tier concurrently, waits
// for all probes to settle, and processes each result. One pair's
// failure never aborts its siblings.
func (o *Orchestrator) RunTier(ctx context.Context, tier string) (TierStats, error) {
	items, err := o.catalog.ListEligibleItems(ctx, tier)
	if err != nil {
		return TierStats{}, fmt.Errorf("failed to load %s tier items: %w", tier, err)
	}

	var pairs []pair
	for _, item := range items {
		for _, r := range item.EnabledRetailers() {
			pairs = append(pairs, pair{item: item, retailer: r})
		}
	}
	if len(pairs) == 0 {
		return TierStats{}, nil
	}

	stats := o.probeAll(ctx, pairs)
	o.logger.Printf("tier %s: %d pairs, %d succeeded, %d failed", tier, stats.Pairs, stats.Succeeded, stats.Failed)
	return stats, nil
}

// ManualScrape probes one item outside the tier schedule, across all
// its enabled retailers or just the one given, and returns the
// individual results. Manual results go through the same cache write
// and decision dispatch as a scheduled tick; what a buy verdict does
// is up to the wired intent sink.
func (o *Orchestrator) ManualScrape(ctx context.Context, itemID uint, retailerID string) ([]cache.ProbeResult, error) {
	item, err := o.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var pairs []pair
	for _, r := range item.EnabledRetailers() {
		if retailerID != "" && r.RetailerID != retailerID {
			continue
		}
		pairs = append(pairs, pair{item: *item, retailer: r})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNoEnabledRetailer)
	}

	o.probeAll(ctx, pairs)

	var results []cache.ProbeResult
	for _, p := range pairs {
		if res, ok := o.cache.Get(p.item.ID, p.retailer.RetailerID); ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// probeAll issues one probe per pair concurrently, settles all of
// them before returning, and feeds every result into the decision
// engine.
func (o *Orchestrator) probeAll(ctx context.Context, pairs []pair) TierStats {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats = TierStats{Pairs: len(pairs)}
	)

	for _, p := range pairs {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.probeOne(ctx, p)

			mu.Lock()
			if res.Success {
				stats.Succeeded++
			} else {
				stats.Failed++
			}
			mu.Unlock()

			o.evaluate(&p.item, res)
		}()
	}
	wg.Wait()
	return stats
}

// probeOne runs a single probe and records its outcome in the cache.
// A failed probe is cached with Success=false (or, under last_known,
// superseded by nothing so the previous observation survives).
func (o *Orchestrator) probeOne(ctx context.Context, p pair) cache.ProbeResult {
	obs, err := o.provider.Probe(ctx, p.retailer.Reference)
	res := cache.ProbeResult{
		ItemID:     p.item.ID,
		RetailerID: p.retailer.RetailerID,
		ObservedAt: time.Now(),
	}

	if err != nil {
		res.Error = err.Error()
		o.logger.Printf("probe failed for item %d on %s (%s): %v",
			p.item.ID, p.retailer.RetailerID, p.retailer.Reference, err)

		if o.fallback == FallbackLastKnown {
			if prev, ok := o.cache.Get(p.item.ID, p.retailer.RetailerID); ok && prev.Success {
				o.logger.Printf("using last known observation for item %d on %s", p.item.ID, p.retailer.RetailerID)
				return prev
			}
		}
		o.cache.Put(res)
		return res
	}

	res.Success = true
	res.Price = obs.Price
	res.InStock = obs.InStock
	res.Title = obs.Title
	o.cache.Put(res)
	return res
}

// evaluate feeds one settled probe into the decision engine and acts
// on the verdict.
func (o *Orchestrator) evaluate(item *models.TrackedItem, res cache.ProbeResult) {
	verdict := decision.Decide(item, res)

	switch verdict.Outcome {
	case decision.OutcomeBuy:
		price := 0.0
		if res.Price != nil {
			price = *res.Price
		}
		quantity := item.MaxQuantity
		if quantity <= 0 {
			quantity = 1
		}
		_, err := o.sink.Submit(executor.Intent{
			ItemID:      item.ID,
			UserID:      item.UserID,
			ItemName:    item.Name,
			RetailerID:  res.RetailerID,
			Reference:   referenceFor(item, res.RetailerID),
			Price:       price,
			Quantity:    quantity,
			TargetPrice: item.TargetPrice,
			MaxPrice:    item.MaxPrice,
		})
		if err == executor.ErrDuplicateIntent {
			// Overlapping ticks race to the same deal; the first one wins.
			return
		}
		if err != nil {
			o.logger.Printf("failed to queue purchase for item %d on %s: %v", item.ID, res.RetailerID, err)
		}

	case decision.OutcomeWouldBuy:
		o.notifier.Notify(notify.KindWouldBuy, map[string]interface{}{
			"item_id":     item.ID,
			"item_name":   item.Name,
			"retailer_id": res.RetailerID,
			"price":       res.Price,
			"target":      item.TargetPrice,
		})

	default:
		o.logger.Printf("skip item %d on %s: %v", item.ID, res.RetailerID, verdict.Reasons)
	}
}

func referenceFor(item *models.TrackedItem, retailerID string) string {
	for _, r := range item.Retailers {
		if r.RetailerID == retailerID {
			return r.Reference
		}
	}
	return ""
}
