package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"dealhunter/internal/catalog"
	"dealhunter/internal/ledger"
	"dealhunter/internal/models"
	"dealhunter/internal/notify"
	"dealhunter/internal/services"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateIntent rejects a second intent for an (item, retailer)
	// pair whose purchase has not reached a terminal state yet.
	ErrDuplicateIntent = errors.New("duplicate purchase intent")
	// ErrInvalidState rejects a transition the state machine does not allow.
	ErrInvalidState = errors.New("invalid purchase state")
	// ErrQueueFull signals the pending queue cannot take more intents.
	ErrQueueFull = errors.New("purchase queue full")
)

// Intent is a proposed purchase produced by a buy verdict.
type Intent struct {
	ItemID      uint
	UserID      uint
	ItemName    string
	RetailerID  string
	Reference   string
	Price       float64
	Quantity    int
	TargetPrice float64
	MaxPrice    float64
}

// Sleeper injects the bounded random inter-step delay used to avoid
// bot-detection heuristics. It returns early with ctx.Err() when the
// context is cancelled, making it a cooperative checkpoint.
type Sleeper func(ctx context.Context, min, max time.Duration) error

func randomSleeper(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config carries the executor tunables.
type Config struct {
	Capacity     int           // max purchases in processing at once
	MaxAttempts  int           // attempt ceiling per purchase
	Cooldown     time.Duration // wait before a failed purchase re-enters the queue
	MinStepDelay time.Duration // pacing delay bounds before retailer calls
	MaxStepDelay time.Duration
	DryRun       bool // record a simulated confirmation instead of buying
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// Executor drives queued purchase intents through the purchase state
// machine with a fixed-size worker pool. At most Capacity purchases are
// in processing at any instant; everything else waits in pending, FIFO.
type Executor struct {
	cfg      Config
	store    ledger.Store
	buyer    services.Purchaser
	payments catalog.Catalog // may be nil when no payment lookup is needed
	notifier notify.Notifier
	logger   *log.Logger
	sleep    Sleeper

	mu         sync.Mutex
	started    bool
	inflight   map[string]uint // item:retailer -> purchase id while non-terminal
	cancels    map[uint]context.CancelFunc
	timers     map[uint]*time.Timer // pending retry cooldowns
	processing int

	queue  chan uint
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, store ledger.Store, buyer services.Purchaser, payments catalog.Catalog, notifier notify.Notifier) *Executor {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Executor{
		cfg:      cfg,
		store:    store,
		buyer:    buyer,
		payments: payments,
		notifier: notifier,
		logger:   log.New(os.Stdout, "[Executor] ", log.LstdFlags),
		sleep:    randomSleeper,
		inflight: make(map[string]uint),
		cancels:  make(map[uint]context.CancelFunc),
		timers:   make(map[uint]*time.Timer),
		queue:    make(chan uint, 1024),
	}
}

// SetSleeper replaces the inter-step delay implementation.
func (e *Executor) SetSleeper(s Sleeper) { e.sleep = s }

// SetLogger replaces the executor's logger.
func (e *Executor) SetLogger(l *log.Logger) { e.logger = l }

func dedupKey(itemID uint, retailerID string) string {
	return fmt.Sprintf("%d:%s", itemID, retailerID)
}

// Start launches the worker pool. Calling it while running is a no-op.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.logger.Println("already running, start ignored")
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for i := 0; i < e.cfg.Capacity; i++ {
		e.wg.Add(1)
		go e.worker(e.ctx)
	}
	e.logger.Printf("started with %d workers (max %d attempts, cooldown %v)",
		e.cfg.Capacity, e.cfg.MaxAttempts, e.cfg.Cooldown)
}

// Stop cancels in-flight executions and waits for the workers to drain.
// Purchases caught mid-execution terminate via the cancelled transition;
// purchases waiting in pending keep their status.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Println("stopped")
}

// Submit accepts a purchase intent and creates its pending ledger entry.
// A second intent for the same (item, retailer) pair while the first is
// not terminal is rejected with ErrDuplicateIntent.
func (e *Executor) Submit(intent Intent) (*models.Purchase, error) {
	if intent.Quantity <= 0 {
		intent.Quantity = 1
	}
	key := dedupKey(intent.ItemID, intent.RetailerID)

	e.mu.Lock()
	if id, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		e.logger.Printf("duplicate intent for %s ignored (purchase %d in flight)", key, id)
		return nil, ErrDuplicateIntent
	}

	p := &models.Purchase{
		IntentID:    uuid.NewString(),
		ItemID:      intent.ItemID,
		UserID:      intent.UserID,
		RetailerID:  intent.RetailerID,
		Reference:   intent.Reference,
		Status:      models.PurchasePending,
		Price:       intent.Price,
		Quantity:    intent.Quantity,
		Total:       intent.Price * float64(intent.Quantity),
		TargetPrice: intent.TargetPrice,
		MaxPrice:    intent.MaxPrice,
		MaxAttempts: e.cfg.MaxAttempts,
	}
	if err := e.store.Create(p); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.inflight[key] = p.ID
	e.mu.Unlock()

	select {
	case e.queue <- p.ID:
	default:
		e.release(p.ID, key)
		return nil, ErrQueueFull
	}

	e.logger.Printf("queued purchase %d: %s on %s at %.2f x%d",
		p.ID, intent.ItemName, intent.RetailerID, intent.Price, intent.Quantity)
	return p, nil
}

// Cancel requests the cancelled transition for a purchase. Pending
// purchases are cancelled immediately; processing ones are signalled and
// finalize at their next cooperative checkpoint. Cancelling a terminal
// purchase fails with ErrInvalidState.
func (e *Executor) Cancel(id uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.Get(id)
	if err != nil {
		return err
	}

	switch p.Status {
	case models.PurchaseProcessing:
		if c, ok := e.cancels[id]; ok {
			c()
		}
		return nil
	case models.PurchasePending:
		if t, ok := e.timers[id]; ok {
			t.Stop()
			delete(e.timers, id)
		}
		p.Status = models.PurchaseCancelled
		if err := e.store.Save(p); err != nil {
			return err
		}
		delete(e.inflight, dedupKey(p.ItemID, p.RetailerID))
		e.logger.Printf("purchase %d cancelled while pending", id)
		return nil
	default:
		return fmt.Errorf("%w: purchase %d is %s", ErrInvalidState, id, p.Status)
	}
}

// QueueDepth returns the number of purchases waiting for pickup.
func (e *Executor) QueueDepth() int { return len(e.queue) }

// Processing returns the number of purchases currently executing.
func (e *Executor) Processing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			e.process(ctx, id)
		}
	}
}

// process drives one pickup: pending -> processing -> terminal or back
// to pending for a retry.
func (e *Executor) process(ctx context.Context, id uint) {
	e.mu.Lock()
	p, err := e.store.Get(id)
	if err != nil {
		// Drop the dedup key so the pair is not blocked forever.
		for k, v := range e.inflight {
			if v == id {
				delete(e.inflight, k)
			}
		}
		e.mu.Unlock()
		e.logger.Printf("purchase %d vanished from ledger: %v", id, err)
		return
	}
	if p.Status != models.PurchasePending {
		// Cancelled while queued
		e.mu.Unlock()
		return
	}

	now := time.Now()
	p.Status = models.PurchaseProcessing
	p.AttemptCount++
	p.LastAttemptAt = &now
	if err := e.store.Save(p); err != nil {
		// The attempt never started; free the pair for a fresh intent.
		delete(e.inflight, dedupKey(p.ItemID, p.RetailerID))
		e.mu.Unlock()
		e.logger.Printf("failed to mark purchase %d processing: %v", id, err)
		return
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	e.cancels[id] = cancelRun
	e.processing++
	e.mu.Unlock()

	conf, execErr := e.execute(runCtx, p)

	e.mu.Lock()
	delete(e.cancels, id)
	e.processing--
	cancelled := runCtx.Err() != nil
	e.mu.Unlock()
	cancelRun()

	// An attempt that already completed has no checkpoint left for a
	// cancel to land on: the confirmation is real and must be recorded.
	if execErr == nil {
		now := time.Now()
		p.OrderNo = conf.OrderNo
		if conf.Price > 0 {
			p.Price = conf.Price
		}
		if conf.Total > 0 {
			p.Total = conf.Total
		} else {
			p.Total = p.Price * float64(p.Quantity)
		}
		p.ConfirmedAt = &now
		e.finalize(p, models.PurchaseSuccess, map[string]interface{}{
			"purchase_id": p.ID,
			"item_id":     p.ItemID,
			"retailer_id": p.RetailerID,
			"order_no":    p.OrderNo,
			"price":       p.Price,
			"total":       p.Total,
		})
		e.logger.Printf("purchase %d succeeded: order %s at %.2f", id, p.OrderNo, p.Price)
		return
	}

	if cancelled {
		e.finalize(p, models.PurchaseCancelled, nil)
		e.logger.Printf("purchase %d cancelled during attempt %d", id, p.AttemptCount)
		return
	}

	if err := e.store.AppendError(id, models.PurchaseError{
		Message:    execErr.Error(),
		Severity:   models.SeverityHigh,
		OccurredAt: time.Now(),
	}); err != nil {
		e.logger.Printf("failed to record error for purchase %d: %v", id, err)
	}

	if p.AttemptCount >= p.MaxAttempts {
		e.finalize(p, models.PurchaseFailed, map[string]interface{}{
			"purchase_id": p.ID,
			"item_id":     p.ItemID,
			"retailer_id": p.RetailerID,
			"attempts":    p.AttemptCount,
			"error":       execErr.Error(),
		})
		e.logger.Printf("purchase %d failed permanently after %d attempts: %v", id, p.AttemptCount, execErr)
		return
	}

	// Back to pending; eligible for re-pickup only after the cooldown,
	// re-entering at the back of the queue.
	p.Status = models.PurchasePending
	if err := e.store.Save(p); err != nil {
		e.logger.Printf("failed to requeue purchase %d: %v", id, err)
		return
	}
	e.logger.Printf("purchase %d attempt %d/%d failed, retrying in %v: %v",
		id, p.AttemptCount, p.MaxAttempts, e.cfg.Cooldown, execErr)
	e.scheduleRetry(id)
}

func (e *Executor) scheduleRetry(id uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.timers[id] = time.AfterFunc(e.cfg.Cooldown, func() {
		e.mu.Lock()
		delete(e.timers, id)
		stopped := !e.started
		e.mu.Unlock()
		if stopped {
			return
		}
		cur, err := e.store.Get(id)
		if err != nil || cur.Status != models.PurchasePending {
			return
		}
		select {
		case e.queue <- id:
		default:
			e.logger.Printf("retry of purchase %d dropped: queue full", id)
		}
	})
}

// execute performs one attempt against the retailer. Each blocking step
// is preceded by a cooperative cancellation checkpoint.
func (e *Executor) execute(ctx context.Context, p *models.Purchase) (*services.Confirmation, error) {
	// Pacing delay before touching the retailer; doubles as the first
	// cancellation checkpoint.
	if err := e.sleep(ctx, e.cfg.MinStepDelay, e.cfg.MaxStepDelay); err != nil {
		return nil, err
	}

	payRef := p.PaymentRef
	if payRef == "" && e.payments != nil {
		pm, err := e.payments.GetDefaultPaymentMethod(ctx, p.UserID, p.RetailerID)
		if err != nil {
			return nil, fmt.Errorf("payment method lookup failed: %w", err)
		}
		payRef = pm.VaultRef
		p.PaymentRef = payRef
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.cfg.DryRun {
		return &services.Confirmation{
			OrderNo: "dry-run-" + p.IntentID,
			Price:   p.Price,
			Total:   p.Price * float64(p.Quantity),
		}, nil
	}

	conf, err := e.buyer.Buy(ctx, services.BuyRequest{
		Reference:  p.Reference,
		Quantity:   p.Quantity,
		MaxPrice:   p.MaxPrice,
		PaymentRef: payRef,
	})
	if err != nil {
		return nil, fmt.Errorf("purchase execution failed: %w", err)
	}
	return conf, nil
}

// finalize writes a terminal status, releases the dedup key and fires
// the matching notification. Notification failures never roll the
// status back.
func (e *Executor) finalize(p *models.Purchase, status string, payload map[string]interface{}) {
	p.Status = status
	if err := e.store.Save(p); err != nil {
		e.logger.Printf("failed to finalize purchase %d as %s: %v", p.ID, status, err)
	}
	e.release(p.ID, dedupKey(p.ItemID, p.RetailerID))

	switch status {
	case models.PurchaseSuccess:
		e.notifier.Notify(notify.KindSuccess, payload)
	case models.PurchaseFailed:
		e.notifier.Notify(notify.KindFailure, payload)
	}
}

func (e *Executor) release(id uint, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.inflight[key]; ok && cur == id {
		delete(e.inflight, key)
	}
}
