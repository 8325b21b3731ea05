package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/raftroch1/odte-engine/internal/models"
)

var (
	positionPrefix = []byte("position/")
	tradePrefix    = []byte("trade/")
	dailyPrefix    = []byte("daily/")
)

// BadgerStorage keeps each position and trade record under its own key, so
// every write is an independent transaction instead of a whole-file rewrite.
// Suited to long backtests producing thousands of records.
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens (or creates) the database directory at dbPath.
func NewBadgerStorage(dbPath string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with the engine's logs.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dbPath, err)
	}
	return &BadgerStorage{db: db}, nil
}

func positionKey(id string) []byte { return append(append([]byte{}, positionPrefix...), id...) }
func tradeKey(id string) []byte    { return append(append([]byte{}, tradePrefix...), id...) }
func dailyKey(date string) []byte  { return append(append([]byte{}, dailyPrefix...), date...) }

// GetOpenPositions scans the position keyspace.
func (s *BadgerStorage) GetOpenPositions() []models.Position {
	var out []models.Position
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = positionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var pos models.Position
				if err := json.Unmarshal(val, &pos); err != nil {
					return err
				}
				out = append(out, pos)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out
}

// GetPosition fetches one open position by ID.
func (s *BadgerStorage) GetPosition(id string) (models.Position, error) {
	var pos models.Position
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(positionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pos)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if err != nil {
		return models.Position{}, err
	}
	return pos, nil
}

// SavePosition upserts an open position.
func (s *BadgerStorage) SavePosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(positionKey(pos.ID), data)
	})
}

// ClosePosition deletes the open entry and writes the trade record and the
// daily P&L bump in the same transaction.
func (s *BadgerStorage) ClosePosition(id string, record models.TradeRecord) error {
	recData, err := json.Marshal(record)
	if err != nil {
		return err
	}
	day := record.ExitTime.UTC().Format("2006-01-02")

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(positionKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(positionKey(id)); err != nil {
			return err
		}
		if err := txn.Set(tradeKey(id), recData); err != nil {
			return err
		}

		total := record.RealizedPnL
		item, err := txn.Get(dailyKey(day))
		if err == nil {
			err = item.Value(func(val []byte) error {
				var prev float64
				if err := json.Unmarshal(val, &prev); err != nil {
					return err
				}
				total += prev
				return nil
			})
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		totalData, err := json.Marshal(total)
		if err != nil {
			return err
		}
		return txn.Set(dailyKey(day), totalData)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return err
}

// GetTradeHistory scans the trade keyspace.
func (s *BadgerStorage) GetTradeHistory() []models.TradeRecord {
	var out []models.TradeRecord
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tradePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec models.TradeRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out
}

// HasTrade reports whether the position closed into history already.
func (s *BadgerStorage) HasTrade(positionID string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(tradeKey(positionID))
		return err
	})
	return err == nil
}

// GetDailyPnL returns the realized P&L for a YYYY-MM-DD date.
func (s *BadgerStorage) GetDailyPnL(date string) float64 {
	var total float64
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dailyKey(date))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &total)
		})
	})
	return total
}

// Save is a no-op: every mutation commits through its own transaction.
func (s *BadgerStorage) Save() error { return nil }

// Load is a no-op: reads always hit the database directly.
func (s *BadgerStorage) Load() error { return nil }

// Close gracefully closes the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
