package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const insertBatch = 1000

type worldRow struct {
	Name      string `gorm:"primaryKey"`
	Seed      int64
	Size      int
	UpdatedAt time.Time
}

func (worldRow) TableName() string { return "worlds" }

// changeRow keeps each change as its own JSON record so that one bad row does
// not spoil the rest of the world.
type changeRow struct {
	World  string `gorm:"primaryKey"`
	Seq    int    `gorm:"primaryKey"`
	Record string
}

func (changeRow) TableName() string { return "world_changes" }

type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLStore connects to Postgres and migrates the schema.
func OpenSQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewSQLStore(db, logger)
}

func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&worldRow{}, &changeRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Exists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&worldRow{}).Where("name = ?", name).Count(&n).Error
	return n > 0, err
}

// Save replaces the stored world in one transaction.
func (s *SQLStore) Save(ctx context.Context, name string, snap Snapshot) error {
	rows := make([]changeRow, 0, len(snap.Changes))
	for i, c := range snap.Changes {
		rec, err := json.Marshal(c)
		if err != nil {
			return err
		}
		rows = append(rows, changeRow{World: name, Seq: i, Record: string(rec)})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head := worldRow{Name: name, Seed: snap.Seed, Size: snap.Size}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&head).Error; err != nil {
			return err
		}
		if err := tx.Where("world = ?", name).Delete(&changeRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, insertBatch).Error
	})
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	s.logger.Debug("world saved", zap.String("world", name), zap.Int("changes", len(rows)))
	return nil
}

func (s *SQLStore) Load(ctx context.Context, name string) (Snapshot, error) {
	db := s.db.WithContext(ctx)

	var head worldRow
	err := db.Where("name = ?", name).First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, err
	}

	var rows []changeRow
	if err := db.Where("world = ?", name).Order("seq").Find(&rows).Error; err != nil {
		return Snapshot{}, fmt.Errorf("loading changes for %s: %w", name, err)
	}
	records := make([][]byte, len(rows))
	for i, r := range rows {
		records[i] = []byte(r.Record)
	}
	return Snapshot{
		Header:  Header{Seed: head.Seed, Size: head.Size},
		Changes: decodeChanges(records, s.logger),
	}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
