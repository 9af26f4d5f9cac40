package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"feedsync/config"
	"feedsync/internal/book"
	"feedsync/internal/candles"
	"feedsync/pkg/binance"
	"feedsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Key identifies one logical subscription.
type Key struct {
	Symbol   string
	Interval string
}

func (k Key) String() string {
	return k.Symbol + ":" + k.Interval
}

type asyncKind int

const (
	asyncSnapshot asyncKind = iota
	asyncSnapshotStalled
	asyncBackfill
	asyncPoll
)

// asyncResult carries the outcome of an async REST operation back into the
// subscription's event loop. epoch guards against stale completions: a
// result produced before a resync or resubscribe must not touch state.
type asyncResult struct {
	kind     asyncKind
	epoch    uint64
	snapshot *binance.DepthSnapshot
	klines   []binance.KlinePayload
	trades   []binance.RESTTrade
}

// Subscription owns the full reconciliation state for one symbol+interval:
// the supervised connection, the order book synchronizer, the candle
// aggregator and the trade high watermark. All state is mutated from the
// single run goroutine; async REST completions are funneled through the
// results channel with an epoch check.
type Subscription struct {
	key  Key
	cfg  config.EngineConfig
	log  *zap.Logger
	sink Sink

	rest    *binance.RESTClient
	persist *postgres.Client // optional closed-bar persistence

	sup    *Supervisor
	router *Router
	sync   *book.Synchronizer
	agg    *candles.Aggregator

	derive      bool // build candles from trades instead of the kline stream
	intervalSec int64

	results chan asyncResult
	ctx     context.Context // run loop lifetime, set once in start
	cancel  context.CancelFunc
	done    chan struct{}

	// everything below is touched only from the run goroutine
	epoch          uint64
	snapshotCancel context.CancelFunc
	connectedOnce  bool
	polling        bool
	tapeWatermark  uint64 // highest trade id forwarded to the sink
}

func newSubscription(key Key, wsURL string, cfg config.EngineConfig,
	rest *binance.RESTClient, persist *postgres.Client, sink Sink, log *zap.Logger) (*Subscription, error) {

	meta, err := binance.ParseKlineInterval(key.Interval)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", key, err)
	}

	s := &Subscription{
		key:         key,
		cfg:         cfg,
		log:         log.With(zap.String("symbol", key.Symbol), zap.String("interval", key.Interval)),
		sink:        sink,
		rest:        rest,
		persist:     persist,
		derive:      cfg.DeriveCandlesFromTrades,
		intervalSec: meta.Seconds,
		results:     make(chan asyncResult, 16),
		done:        make(chan struct{}),
	}

	s.sync = book.NewSynchronizer(cfg.MaxDepthBuffer, sink, s.log)
	s.agg = candles.NewAggregator(cfg.MaxCandles, meta.Seconds, sink, s.log)
	s.router = NewRouter(Handlers{
		Kline: s.onKline,
		Depth: s.onDepth,
		Trade: s.onTrade,
	}, s.log)

	s.sup = NewSupervisor(SupervisorConfig{
		URL:          wsURL,
		Streams:      s.streamNames(),
		BaseDelay:    cfg.BaseReconnectDelay,
		MaxDelay:     cfg.MaxReconnectDelay,
		MaxFails:     cfg.MaxReconnectFails,
		PollInterval: cfg.PollInterval,
	}, s.log)

	return s, nil
}

// streamNames lists the streams this subscription needs. The kline stream
// is skipped in trade-derived mode; the trade stream always runs since it
// also feeds the trade tape.
func (s *Subscription) streamNames() []string {
	sym := strings.ToLower(s.key.Symbol)
	streams := []string{
		sym + "@depth@100ms",
		sym + "@trade",
	}
	if !s.derive {
		streams = append(streams, sym+"@kline_"+s.key.Interval)
	}
	return streams
}

func (s *Subscription) start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sup.Start(s.ctx)
	go s.run(s.ctx)
}

// stop is terminal: it cancels the transport, all timers and all pending
// async work, then waits for the run goroutine to exit.
func (s *Subscription) stop() {
	s.cancel()
	<-s.done
}

// Retry asks the supervisor to attempt a reconnect immediately (e.g. a
// user-initiated retry while in polling fallback).
func (s *Subscription) Retry() {
	s.sup.Retry()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sup.Events():
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		case res := <-s.results:
			s.handleAsync(res)
		}
	}
}

func (s *Subscription) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventFrame:
		s.router.Route(ev.Frame)
	case EventState:
		s.onStateChange(ctx, ev.State)
	case EventPollTick:
		s.startPoll(ctx)
	}
}

func (s *Subscription) onStateChange(ctx context.Context, st StateChange) {
	s.sink.ConnectionState(st)

	switch st.State {
	case StateConnected:
		s.polling = false
		if s.connectedOnce {
			s.log.Info("reconnected, forcing full resync")
		}
		s.connectedOnce = true
		// The stream cannot be trusted to be continuous across any
		// connect, so every connected transition re-snapshots the book
		// and re-backfills the series.
		s.resync(ctx)
	case StatePolling:
		s.polling = true
		s.sink.Warning("live stream unavailable, falling back to REST polling")
	case StateFailed:
		s.log.Warn("stream connection failed repeatedly",
			zap.Int("attempts", st.Attempt), zap.Error(st.Err))
	}
}

// resync advances the epoch (invalidating every in-flight async
// continuation), cancels any pending snapshot retry loop and starts a fresh
// snapshot fetch plus candle backfill.
func (s *Subscription) resync(ctx context.Context) {
	s.epoch++
	if s.snapshotCancel != nil {
		s.snapshotCancel()
		s.snapshotCancel = nil
	}
	s.sync.Reset()
	s.startSnapshotFetch(ctx)
	s.startBackfill(ctx)
}

// --- stream handlers (called from the run goroutine via the router) ---

func (s *Subscription) onDepth(u binance.DepthUpdate) {
	if s.sync.OnDepthUpdate(u) == book.ResultGap {
		// Sequence gap: state is already cleared, fetch a new snapshot.
		s.epoch++
		if s.snapshotCancel != nil {
			s.snapshotCancel()
			s.snapshotCancel = nil
		}
		s.startSnapshotFetch(s.ctx)
	}
}

func (s *Subscription) onKline(ev binance.KlineEvent) {
	if s.derive {
		return // candles come from trades on this feed
	}
	s.agg.OnKline(ev.Kline)
	if ev.Kline.Closed {
		s.persistClosedKline(ev.Kline)
	}
}

func (s *Subscription) onTrade(ev binance.TradeEvent) {
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return
	}
	qty, err := strconv.ParseFloat(ev.Quantity, 64)
	if err != nil {
		return
	}

	s.forwardTrade(Trade{
		SequenceID:   ev.ID,
		Price:        price,
		Quantity:     qty,
		TimestampMs:  ev.TradeTime,
		IsBuyerMaker: ev.IsBuyerMaker,
	})

	if s.derive {
		s.foldTrade(price, qty, ev.TradeTime, ev.ID)
	}
}

// forwardTrade appends to the sink's tape, deduplicated by sequence id so
// REST-polled batches never replay stream trades. Id 0 means the frame
// carried no sequence id; such trades are forwarded but never move the
// watermark.
func (s *Subscription) forwardTrade(t Trade) {
	if t.SequenceID != 0 {
		if t.SequenceID <= s.tapeWatermark {
			return
		}
		s.tapeWatermark = t.SequenceID
	}
	s.sink.AppendTrade(t)
}

// foldTrade applies one trade to the aggregator and persists the previous
// bar when a new bucket opens (the only moment a derived bar is final).
func (s *Subscription) foldTrade(price, qty float64, tsMs int64, seqID uint64) {
	prev, hadPrev := s.agg.Series().Last()
	if !s.agg.OnTrade(price, qty, tsMs, seqID) {
		return
	}
	if last, _ := s.agg.Series().Last(); hadPrev && last.OpenTime > prev.OpenTime {
		s.persistBar(prev)
	}
}

// --- async REST operations ---

// startSnapshotFetch launches the snapshot retry loop: fast exponential
// backoff for the first MaxSnapshotRetries attempts, then an advisory
// warning and an indefinite long-interval recovery loop.
func (s *Subscription) startSnapshotFetch(ctx context.Context) {
	fctx, cancel := context.WithCancel(ctx)
	s.snapshotCancel = cancel
	epoch := s.epoch

	go func() {
		for attempt := 0; attempt < s.cfg.MaxSnapshotRetries; attempt++ {
			snap, err := s.rest.GetDepthSnapshot(fctx, s.key.Symbol, s.cfg.DepthLimit)
			if err == nil {
				s.post(fctx, asyncResult{kind: asyncSnapshot, epoch: epoch, snapshot: snap})
				return
			}
			s.log.Warn("depth snapshot fetch failed",
				zap.Int("attempt", attempt), zap.Error(err))
			if !sleepCtx(fctx, time.Duration(1<<uint(attempt))*time.Second) {
				return
			}
		}

		// Fast retries exhausted: surface a warning and keep trying on a
		// long interval until cancelled. The book stays non-functional
		// but the system never gives up.
		s.post(fctx, asyncResult{kind: asyncSnapshotStalled, epoch: epoch})

		ticker := time.NewTicker(s.cfg.SnapshotRecovery)
		defer ticker.Stop()
		for {
			select {
			case <-fctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := s.rest.GetDepthSnapshot(fctx, s.key.Symbol, s.cfg.DepthLimit)
			if err == nil {
				s.post(fctx, asyncResult{kind: asyncSnapshot, epoch: epoch, snapshot: snap})
				return
			}
			s.log.Warn("depth snapshot recovery fetch failed", zap.Error(err))
		}
	}()
}

// startBackfill seeds the series from REST history. Relay mode only: a
// trade-derived feed has no native kline history, and replacing the series
// out from under the aggregator would discard partially built bars.
func (s *Subscription) startBackfill(ctx context.Context) {
	if s.derive {
		return
	}
	epoch := s.epoch
	go func() {
		klines, err := s.rest.GetKlines(ctx, s.key.Symbol, s.key.Interval, s.cfg.BackfillLimit)
		if err != nil {
			s.log.Warn("kline backfill failed", zap.Error(err))
			return
		}
		s.post(ctx, asyncResult{kind: asyncBackfill, epoch: epoch, klines: klines})
	}()
}

// startPoll re-issues the stream's REST equivalents: candles, order book
// snapshot and recent trades. Runs only in polling fallback.
func (s *Subscription) startPoll(ctx context.Context) {
	if !s.polling {
		return
	}
	epoch := s.epoch
	go func() {
		res := asyncResult{kind: asyncPoll, epoch: epoch}

		if !s.derive {
			klines, err := s.rest.GetKlines(ctx, s.key.Symbol, s.key.Interval, s.cfg.BackfillLimit)
			if err != nil {
				s.log.Warn("poll: kline fetch failed", zap.Error(err))
			} else {
				res.klines = klines
			}
		}

		snap, err := s.rest.GetDepthSnapshot(ctx, s.key.Symbol, s.cfg.DepthLimit)
		if err != nil {
			s.log.Warn("poll: depth snapshot fetch failed", zap.Error(err))
		} else {
			res.snapshot = snap
		}

		trades, err := s.rest.GetRecentTrades(ctx, s.key.Symbol, s.cfg.BackfillLimit)
		if err != nil {
			s.log.Warn("poll: recent trades fetch failed", zap.Error(err))
		} else {
			res.trades = trades
		}

		s.post(ctx, res)
	}()
}

// handleAsync folds an async completion into subscription state. Results
// from a previous epoch are dropped: their subscription generation has
// moved on and applying them would clobber newer state.
func (s *Subscription) handleAsync(res asyncResult) {
	if res.epoch != s.epoch {
		s.log.Debug("dropping stale async result",
			zap.Uint64("result_epoch", res.epoch), zap.Uint64("epoch", s.epoch))
		return
	}

	switch res.kind {
	case asyncSnapshot:
		if s.snapshotCancel != nil {
			s.snapshotCancel() // fetch loop is done, release its context
			s.snapshotCancel = nil
		}
		s.sync.OnSnapshot(res.snapshot)
		s.log.Info("order book synchronized",
			zap.Uint64("last_update_id", res.snapshot.LastUpdateID))
	case asyncSnapshotStalled:
		s.sink.Warning("order book snapshot unavailable, retrying in background")
	case asyncBackfill:
		s.agg.SetHistory(candles.BarsFromKlines(res.klines))
	case asyncPoll:
		if res.klines != nil {
			s.agg.SetHistory(candles.BarsFromKlines(res.klines))
		}
		if res.snapshot != nil {
			s.sync.OnSnapshot(res.snapshot)
		}
		for _, t := range res.trades {
			price, err := strconv.ParseFloat(t.Price, 64)
			if err != nil {
				continue
			}
			qty, err := strconv.ParseFloat(t.Quantity, 64)
			if err != nil {
				continue
			}
			s.forwardTrade(Trade{
				SequenceID:   t.ID,
				Price:        price,
				Quantity:     qty,
				TimestampMs:  t.Time,
				IsBuyerMaker: t.IsBuyerMaker,
			})
			if s.derive {
				s.foldTrade(price, qty, t.Time, t.ID)
			}
		}
	}
}

func (s *Subscription) post(ctx context.Context, res asyncResult) {
	select {
	case s.results <- res:
	case <-ctx.Done():
	}
}

// --- persistence ---

func (s *Subscription) persistClosedKline(k binance.KlinePayload) {
	if s.persist == nil {
		return
	}
	record, err := postgres.ToCandleRecord(s.key.Symbol, s.key.Interval, k)
	if err != nil {
		s.log.Warn("failed to convert kline to candle record", zap.Error(err))
		return
	}
	s.insertRecord(record)
}

func (s *Subscription) persistBar(b candles.Bar) {
	if s.persist == nil {
		return
	}
	s.insertRecord(postgres.CandleRecordFromBar(s.key.Symbol, s.key.Interval,
		b.OpenTime, b.OpenTime+s.intervalSec, b.Open, b.High, b.Low, b.Close, b.Volume))
}

// insertRecord writes asynchronously; persistence failures are logged and
// never affect the engine.
func (s *Subscription) insertRecord(record *postgres.CandleRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.persist.InsertCandle(ctx, record); err != nil {
			s.log.Warn("failed to insert candle record", zap.Error(err))
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
