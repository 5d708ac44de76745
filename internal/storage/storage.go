// Package storage is the durable trade table. The lifecycle engine is the
// only writer of order snapshots and close flags; the ingestion listener
// writes new rows and the bragged flag.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signaloor/internal/models"
)

// ErrDuplicateSignal is returned when a signal is rejected by the dedup
// guard (same message id, or same text hash inside the dedup window).
var ErrDuplicateSignal = errors.New("duplicate signal")

type Store struct {
	db *gorm.DB
}

// New opens the trade database. A postgres:// URL selects PostgreSQL,
// anything else is treated as a SQLite file path.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&models.Trade{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// InsertTrade stores a freshly parsed signal. It rejects re-ingestion of a
// known message id and any signal whose text hash was already seen within
// dedupWindow of the candidate's timestamp.
func (s *Store) InsertTrade(trade *models.Trade, dedupWindow time.Duration) error {
	var existing models.Trade
	err := s.db.First(&existing, "id = ?", trade.ID).Error
	if err == nil {
		return fmt.Errorf("%w: message %d already stored", ErrDuplicateSignal, trade.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var count int64
	err = s.db.Model(&models.Trade{}).
		Where("text_hash = ?", trade.TextHash).
		Where("timestamp >= ? AND timestamp <= ?",
			trade.Timestamp.Add(-dedupWindow), trade.Timestamp.Add(dedupWindow)).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: same text within %s", ErrDuplicateSignal, dedupWindow)
	}

	return s.db.Create(trade).Error
}

// SaveTrade persists a mutated trade (order snapshots, flags).
func (s *Store) SaveTrade(trade *models.Trade) error {
	return s.db.Save(trade).Error
}

// GetTrade fetches one trade by id.
func (s *Store) GetTrade(id int64) (*models.Trade, error) {
	var trade models.Trade
	if err := s.db.First(&trade, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// MarkBragged flags a trade the channel itself reported closed or cancelled.
// Set by the ingestion listener only; the engine never touches it.
func (s *Store) MarkBragged(id int64) error {
	res := s.db.Model(&models.Trade{}).Where("id = ?", id).Update("bragged", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UnseenTrades returns pending signals with no open order yet, most recent
// first, restricted to the lookback window and capped at limit. Bragged
// signals are excluded: the channel already called them off.
func (s *Store) UnseenTrades(limit int, lookback time.Duration) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.
		Where("open_order IS NULL").
		Where("timestamp >= ?", time.Now().Add(-lookback)).
		Where("bragged = ?", false).
		Where("closed = ?", false).
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// TradesWithPendingOpenOrder returns live trades whose entry order is placed
// but whose take-profit order is not. A trade with only one of two exit legs
// recorded lands here too, so the missing leg gets placed next cycle.
func (s *Store) TradesWithPendingOpenOrder() ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.
		Where("open_order IS NOT NULL").
		Where("take_profit_order IS NULL").
		Where("closed = ?", false).
		Find(&trades).Error
	return trades, err
}

// TradesWithPendingExitOrder returns live trades with a take-profit order
// outstanding.
func (s *Store) TradesWithPendingExitOrder() ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.
		Where("take_profit_order IS NOT NULL").
		Where("closed = ?", false).
		Find(&trades).Error
	return trades, err
}
