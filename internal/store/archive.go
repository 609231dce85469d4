package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/putup"
)

const saveBatchSize = 500

// BarRecord is one archived bar row, keyed by symbol, bar size and time.
type BarRecord struct {
	Symbol  string    `gorm:"primaryKey;size:32"`
	BarSize int       `gorm:"primaryKey"`
	Time    time.Time `gorm:"primaryKey"`
	Open    float64
	High    float64
	Low     float64
	Close   float64
	WAP     float64
	Volume  int64
}

// TableName implements the gorm table naming convention.
func (BarRecord) TableName() string { return "bars" }

// Archive persists graph bars to postgres. Writes are idempotent upserts
// so repeated preloads of the same window do not duplicate rows.
type Archive struct {
	db    *gorm.DB
	arena *putup.Arena
}

// NewArchive creates the bar archive and migrates its schema.
func NewArchive(db *gorm.DB, arena *putup.Arena) (*Archive, error) {
	if err := db.AutoMigrate(&BarRecord{}); err != nil {
		return nil, err
	}
	return &Archive{db: db, arena: arena}, nil
}

// SaveBars upserts the points under the security's symbol.
func (a *Archive) SaveBars(ctx context.Context, security putup.Handle, barSize enum.BarSize, points []model.GraphPoint) error {
	if len(points) == 0 {
		return nil
	}
	sec, err := a.arena.Security(security)
	if err != nil {
		return err
	}

	records := make([]BarRecord, 0, len(points))
	for _, p := range points {
		records = append(records, BarRecord{
			Symbol:  sec.Symbol,
			BarSize: int(barSize),
			Time:    p.Time,
			Open:    p.Open,
			High:    p.High,
			Low:     p.Low,
			Close:   p.Close,
			WAP:     p.WAP,
			Volume:  p.Volume,
		})
	}

	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, saveBatchSize).Error
}

// LoadBars reads archived bars for a symbol ordered by time, bounded by
// the half-open interval [from, to).
func (a *Archive) LoadBars(ctx context.Context, symbol string, barSize enum.BarSize, from, to time.Time) ([]model.GraphPoint, error) {
	var records []BarRecord
	err := a.db.WithContext(ctx).
		Where("symbol = ? AND bar_size = ? AND time >= ? AND time < ?", symbol, int(barSize), from, to).
		Order("time ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	points := make([]model.GraphPoint, 0, len(records))
	for _, r := range records {
		points = append(points, model.GraphPoint{
			Time:   r.Time,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			WAP:    r.WAP,
			Volume: r.Volume,
		})
	}
	return points, nil
}
