package postgres

import (
	"context"
	"strconv"
	"time"

	"feedsync/pkg/binance"

	"gorm.io/gorm/clause"
)

// InsertCandle inserts a closed bar, silently skipping duplicates. A bar is
// uniquely identified by (symbol, interval, open time); re-inserting after
// a reconnect or polling replay is expected and harmless.
func (c *Client) InsertCandle(ctx context.Context, record *CandleRecord) error {
	return c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "open_time"},
		},
		DoNothing: true,
	}).Create(record).Error
}

func (c *Client) GetCandle(ctx context.Context, symbol, interval string, openTime time.Time) (*CandleRecord, error) {
	var candle CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND interval = ? AND open_time = ?", symbol, interval, openTime).
		First(&candle).Error

	if err != nil {
		return nil, err
	}
	return &candle, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]CandleRecord, error) {
	var candles []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").
		Limit(limit).
		Find(&candles).Error

	if err != nil {
		return nil, err
	}
	return candles, nil
}

func (c *Client) DeleteOldCandles(ctx context.Context, before time.Time) error {
	return c.DB.WithContext(ctx).
		Where("open_time < ?", before).
		Delete(&CandleRecord{}).Error
}

// ToCandleRecord converts a wire kline into a CandleRecord for insertion.
func ToCandleRecord(symbol, interval string, k binance.KlinePayload) (*CandleRecord, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, err
	}

	return &CandleRecord{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.Start),
		CloseTime: time.UnixMilli(k.End),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

// CandleRecordFromBar builds a record from an already-parsed bar. Times are
// in seconds since epoch.
func CandleRecordFromBar(symbol, interval string, openTimeSec, closeTimeSec int64,
	open, high, low, closePrice, volume float64) *CandleRecord {
	return &CandleRecord{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.Unix(openTimeSec, 0),
		CloseTime: time.Unix(closeTimeSec, 0),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
}
