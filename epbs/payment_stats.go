// payment_stats.go adapts the teacher's epoch-bucketed EMA tracker
// (formerly mev_burn.go's MEVBurnTracker, which smoothed observed MEV-burn
// amounts) into an observability sink for promoted builder payments. It has
// no counterpart in spec.md's text — PromoteBuilderPayment only needs to
// append to BuilderPendingWithdrawals — but every promotion is a natural
// event to bucket for orchestration-layer metrics, and it keeps the EMA
// idiom the teacher already built exercised rather than discarded.
package epbs

import "sync"

// PaymentStatsConfig tunes the EMA smoothing applied across epochs.
type PaymentStatsConfig struct {
	// EMAAlpha is the smoothing factor in (0, 1]; higher weights recent
	// epochs more heavily.
	EMAAlpha float64
	// MaxTrackedEpochs bounds how many EpochPaymentStats entries
	// PruneEpochsBefore is expected to keep around.
	MaxTrackedEpochs uint64
}

// DefaultPaymentStatsConfig matches the teacher's DefaultMEVBurnConfig
// smoothing choice.
func DefaultPaymentStatsConfig() PaymentStatsConfig {
	return PaymentStatsConfig{
		EMAAlpha:         0.2,
		MaxTrackedEpochs: 256,
	}
}

// EpochPaymentStats accumulates promoted-payment totals for one epoch.
type EpochPaymentStats struct {
	Epoch          uint64
	TotalAmount    uint64
	PaymentCount   uint64
	DistinctBuilders map[BuilderIndex]struct{}
}

// AverageAmount returns the mean payment amount for the epoch, or 0 if no
// payments were recorded.
func (e *EpochPaymentStats) AverageAmount() uint64 {
	if e.PaymentCount == 0 {
		return 0
	}
	return e.TotalAmount / e.PaymentCount
}

// PaymentStatsTracker keeps a rolling, epoch-bucketed record of promoted
// builder payments (state.BuilderPendingWithdrawals entries created by
// PromoteBuilderPayment) plus an exponential moving average of per-epoch
// totals, mirroring the teacher's MEVBurnTracker shape.
type PaymentStatsTracker struct {
	mu     sync.RWMutex
	config PaymentStatsConfig

	epochs map[uint64]*EpochPaymentStats
	ema    float64
	emaSet bool

	lifetimeAmount uint64
	lifetimeCount  uint64
}

// NewPaymentStatsTracker returns an empty tracker.
func NewPaymentStatsTracker(config PaymentStatsConfig) *PaymentStatsTracker {
	return &PaymentStatsTracker{
		config: config,
		epochs: make(map[uint64]*EpochPaymentStats),
	}
}

// RecordPromotion bucket the promotion of a builder payment into the epoch
// containing slot, updating the lifetime totals and the EMA. Called once
// per PromoteBuilderPayment invocation that actually appends a withdrawal.
func (t *PaymentStatsTracker) RecordPromotion(slot uint64, builderIndex BuilderIndex, amount uint64) {
	epoch := slot / SlotsPerEpoch

	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.epochs[epoch]
	if !ok {
		stats = &EpochPaymentStats{
			Epoch:            epoch,
			DistinctBuilders: make(map[BuilderIndex]struct{}),
		}
		t.epochs[epoch] = stats
	}
	stats.TotalAmount += amount
	stats.PaymentCount++
	stats.DistinctBuilders[builderIndex] = struct{}{}

	t.lifetimeAmount += amount
	t.lifetimeCount++

	if !t.emaSet {
		t.ema = float64(stats.TotalAmount)
		t.emaSet = true
		return
	}
	alpha := t.config.EMAAlpha
	t.ema = alpha*float64(stats.TotalAmount) + (1-alpha)*t.ema
}

// GetEpochStats returns a copy of the stats for epoch, if any were recorded.
func (t *PaymentStatsTracker) GetEpochStats(epoch uint64) (EpochPaymentStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats, ok := t.epochs[epoch]
	if !ok {
		return EpochPaymentStats{}, false
	}
	return *stats, true
}

// EMA returns the current smoothed per-epoch payment total.
func (t *PaymentStatsTracker) EMA() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ema
}

// LifetimeTotals returns the total amount and count of payments recorded
// since the tracker was created.
func (t *PaymentStatsTracker) LifetimeTotals() (amount uint64, count uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lifetimeAmount, t.lifetimeCount
}

// PruneEpochsBefore discards tracked epochs strictly older than epoch,
// bounding memory growth the way the teacher's tracker bounded its own
// epoch map.
func (t *PaymentStatsTracker) PruneEpochsBefore(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for e := range t.epochs {
		if e < epoch {
			delete(t.epochs, e)
		}
	}
}

// EpochCount reports how many epochs are currently tracked.
func (t *PaymentStatsTracker) EpochCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.epochs)
}
