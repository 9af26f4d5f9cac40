package feed

import (
	"feedsync/pkg/binance"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Handlers are the typed callbacks the router dispatches into. Nil handlers
// drop their event kind.
type Handlers struct {
	Kline func(binance.KlineEvent)
	Depth func(binance.DepthUpdate)
	Trade func(binance.TradeEvent)
}

// Router demultiplexes raw stream frames by their event-type tag.
// Frames without a tag (subscription acks), with an unknown tag, or that
// fail to parse are dropped without touching any state.
type Router struct {
	log      *zap.Logger
	handlers Handlers
}

func NewRouter(handlers Handlers, log *zap.Logger) *Router {
	return &Router{log: log, handlers: handlers}
}

func (r *Router) Route(frame []byte) {
	// Peek at the tag before committing to a full parse.
	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		r.log.Debug("dropping unparseable frame", zap.Error(err))
		return
	}

	switch probe.Event {
	case "kline":
		var ev binance.KlineEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			r.log.Debug("dropping malformed kline frame", zap.Error(err))
			return
		}
		if r.handlers.Kline != nil {
			r.handlers.Kline(ev)
		}
	case "depthUpdate":
		var ev binance.DepthUpdate
		if err := json.Unmarshal(frame, &ev); err != nil {
			r.log.Debug("dropping malformed depth frame", zap.Error(err))
			return
		}
		if r.handlers.Depth != nil {
			r.handlers.Depth(ev)
		}
	case "trade":
		var ev binance.TradeEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			r.log.Debug("dropping malformed trade frame", zap.Error(err))
			return
		}
		if r.handlers.Trade != nil {
			r.handlers.Trade(ev)
		}
	default:
		// subscription responses and unknown events are ignored
	}
}
