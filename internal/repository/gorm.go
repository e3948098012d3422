package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// SessionRecord is the stored form of a purchase process.
type SessionRecord struct {
	SessionID string    `gorm:"primaryKey;size:64"`
	State     string    `gorm:"size:16;not null;index:idx_session_state_updated,priority:1"`
	Payload   string    `gorm:"type:text;not null"` // JSON document
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_session_state_updated,priority:2"`
}

func (SessionRecord) TableName() string { return "purchase_session" }

// GormRepository stores sessions in Postgres or SQLite.
type GormRepository struct {
	db *gorm.DB
}

// Open connects to dsn. A "sqlite:" prefix selects SQLite; anything else is
// handed to the Postgres driver.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to connect to database: %w", err)
	}
	return db, nil
}

// NewGormRepository migrates the session table and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		panic("gorm DB cannot be nil")
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("repository: failed to migrate database: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, p *purchase.Process) error {
	rec, err := toSessionRecord(p)
	if err != nil {
		return err
	}
	rec.Version = 1
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return purchase.NewError(purchase.KindValidation, "repository.Create", fmt.Sprintf("session %s already exists", p.ID()))
		}
		return purchase.WrapError(purchase.KindTransient, "repository.Create", err)
	}
	p.SetVersion(rec.Version)
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id purchase.SessionID) (*purchase.Process, error) {
	var rec SessionRecord
	result := r.db.WithContext(ctx).Where("session_id = ?", id.String()).First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, purchase.ErrSessionNotFound(id)
		}
		return nil, purchase.WrapError(purchase.KindTransient, "repository.Get", result.Error)
	}
	p := new(purchase.Process)
	if err := json.Unmarshal([]byte(rec.Payload), p); err != nil {
		return nil, fmt.Errorf("repository: decode session %s: %w", id, err)
	}
	p.SetVersion(rec.Version)
	return p, nil
}

func (r *GormRepository) Save(ctx context.Context, p *purchase.Process) error {
	rec, err := toSessionRecord(p)
	if err != nil {
		return err
	}
	next := p.Version() + 1
	result := r.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ? AND version = ?", rec.SessionID, p.Version()).
		Updates(map[string]interface{}{
			"state":      rec.State,
			"payload":    rec.Payload,
			"updated_at": rec.UpdatedAt,
			"version":    next,
		})
	if result.Error != nil {
		return purchase.WrapError(purchase.KindTransient, "repository.Save", result.Error)
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&SessionRecord{}).Where("session_id = ?", rec.SessionID).Count(&n).Error; err != nil {
			return purchase.WrapError(purchase.KindTransient, "repository.Save", err)
		}
		if n == 0 {
			return purchase.ErrSessionNotFound(p.ID())
		}
		return errStaleVersion(p.ID(), p.Version())
	}
	p.SetVersion(next)
	return nil
}

func (r *GormRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]purchase.SessionID, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("state IN ? AND updated_at < ?", nonTerminalStates, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("session_id", &ids).Error; err != nil {
		return nil, purchase.WrapError(purchase.KindTransient, "repository.ListStale", err)
	}
	out := make([]purchase.SessionID, len(ids))
	for i, id := range ids {
		out[i] = purchase.SessionID(id)
	}
	return out, nil
}

func toSessionRecord(p *purchase.Process) (SessionRecord, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("repository: encode session %s: %w", p.ID(), err)
	}
	return SessionRecord{
		SessionID: p.ID().String(),
		State:     string(p.State()),
		Payload:   string(payload),
		CreatedAt: p.CreatedAt(),
		UpdatedAt: p.UpdatedAt(),
	}, nil
}
