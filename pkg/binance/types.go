package binance

// DepthUpdate represents a diff depth stream event.
// U/u delimit the update-id range covered by this delta.
type DepthUpdate struct {
	EventType string     `json:"e"` // "depthUpdate"
	EventTime int64      `json:"E"` // event time (milliseconds since epoch)
	Symbol    string     `json:"s"` // e.g. "BTCUSDT"
	FirstID   uint64     `json:"U"` // first update id in this event
	FinalID   uint64     `json:"u"` // final update id in this event
	Bids      [][]string `json:"b"` // [price, quantity] pairs; quantity "0" removes the level
	Asks      [][]string `json:"a"`
}

// DepthSnapshot is the REST order book snapshot.
type DepthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// KlineEvent is the websocket kline/candlestick event envelope.
type KlineEvent struct {
	EventType string       `json:"e"` // "kline"
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     KlinePayload `json:"k"`
}

// KlinePayload carries one bar; Closed flips to true exactly once per bar,
// on the final update of its interval.
type KlinePayload struct {
	Start    int64  `json:"t"` // bar open time (milliseconds since epoch)
	End      int64  `json:"T"` // bar close time (milliseconds since epoch)
	Interval string `json:"i"` // e.g. "1m"
	Open     string `json:"o"`
	Close    string `json:"c"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"` // whether this bar is finalized
}

// TradeEvent is the websocket trade stream event.
// ID is exchange-monotonic per symbol but may have gaps.
type TradeEvent struct {
	EventType    string `json:"e"` // "trade"
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	ID           uint64 `json:"t"` // trade sequence id
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"` // trade time (milliseconds since epoch)
	IsBuyerMaker bool   `json:"m"`
}

// RESTTrade is one element of the REST recent-trades response.
type RESTTrade struct {
	ID           uint64 `json:"id"`
	Price        string `json:"price"`
	Quantity     string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}
