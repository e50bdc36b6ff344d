package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
)

var _ repository.QueueStore = (*GormQueueStore)(nil)

// GormQueueStore keeps delivery entries in the SQLite state database.
type GormQueueStore struct {
	db *gorm.DB
}

func NewGormQueueStore(db *gorm.DB) *GormQueueStore {
	return &GormQueueStore{db: db}
}

func (s *GormQueueStore) Insert(ctx context.Context, e models.QueueEntry) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *GormQueueStore) ClaimReady(ctx context.Context, now time.Time, max int) ([]models.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	var claimed []models.QueueEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []QueueRow
		err := tx.Where("state = ? AND ready_at_ms <= ?", string(models.EntryPending), toMs(now)).
			Order("ready_at_ms ASC, enqueued_at_ms ASC").
			Limit(max).
			Find(&rows).Error
		if err != nil {
			return err
		}
		for _, r := range rows {
			e, err := fromRow(r)
			if err != nil {
				return err
			}
			e.State = models.EntryInFlight
			e.UpdatedAt = now
			res := tx.Model(&QueueRow{}).
				Where("id = ? AND state = ?", r.ID, string(models.EntryPending)).
				Updates(map[string]any{"state": string(models.EntryInFlight), "updated_at_ms": toMs(now)})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				claimed = append(claimed, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim ready: %w", err)
	}
	return claimed, nil
}

func (s *GormQueueStore) Update(ctx context.Context, e models.QueueEntry) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&QueueRow{}).Where("id = ?", e.ID).Updates(map[string]any{
		"state":         row.State,
		"ready_at_ms":   row.ReadyAtMs,
		"retry_count":   row.RetryCount,
		"last_error":    row.LastError,
		"unit":          row.Unit,
		"updated_at_ms": row.UpdatedAtMs,
	})
	if res.Error != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update entry %s: %w", e.ID, models.ErrNotFound)
	}
	return nil
}

func (s *GormQueueStore) Get(ctx context.Context, id string) (models.QueueEntry, error) {
	var row QueueRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.QueueEntry{}, fmt.Errorf("entry %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("entry %s: %w", id, err)
	}
	return fromRow(row)
}

func (s *GormQueueStore) RequeueInFlight(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&QueueRow{}).
		Where("state = ?", string(models.EntryInFlight)).
		Update("state", string(models.EntryPending))
	if res.Error != nil {
		return 0, fmt.Errorf("requeue in-flight: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormQueueStore) Counts(ctx context.Context) (models.QueueCounts, error) {
	var rows []struct {
		State string
		N     int
	}
	err := s.db.WithContext(ctx).Model(&QueueRow{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("queue counts: %w", err)
	}
	var c models.QueueCounts
	for _, r := range rows {
		c.Add(models.EntryState(r.State), r.N)
	}
	return c, nil
}

func (s *GormQueueStore) ListFailed(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []QueueRow
	err := s.db.WithContext(ctx).
		Where("state = ?", string(models.EntryFailed)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "updated_at_ms"}, Desc: true}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	out := make([]models.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Close is a no-op; the database handle is shared with the dedup store.
func (s *GormQueueStore) Close() error { return nil }

func toRow(e models.QueueEntry) (QueueRow, error) {
	unit, err := json.Marshal(e.Unit)
	if err != nil {
		return QueueRow{}, fmt.Errorf("encode unit %s: %w", e.ID, err)
	}
	return QueueRow{
		ID:           e.ID,
		State:        string(e.State),
		ReadyAtMs:    toMs(e.ReadyAt),
		EnqueuedAtMs: toMs(e.EnqueuedAt),
		RetryCount:   e.RetryCount,
		LastError:    e.LastError,
		Strategy:     e.Unit.Strategy(),
		Tier:         int(e.Unit.Tier()),
		Unit:         unit,
		UpdatedAtMs:  toMs(e.UpdatedAt),
	}, nil
}

func fromRow(r QueueRow) (models.QueueEntry, error) {
	var unit models.DeliveryUnit
	if err := json.Unmarshal(r.Unit, &unit); err != nil {
		return models.QueueEntry{}, fmt.Errorf("decode unit %s: %w", r.ID, err)
	}
	return models.QueueEntry{
		ID:         r.ID,
		Unit:       unit,
		State:      models.EntryState(r.State),
		EnqueuedAt: fromMs(r.EnqueuedAtMs),
		ReadyAt:    fromMs(r.ReadyAtMs),
		RetryCount: r.RetryCount,
		LastError:  r.LastError,
		UpdatedAt:  fromMs(r.UpdatedAtMs),
	}, nil
}
