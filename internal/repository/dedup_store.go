package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/util"
)

var _ repository.DedupStore = (*DedupStore)(nil)

// DedupStore keeps per-strategy alert state in SQLite.
// Acquire holds the strategy's lock across check and record so two racing
// candidates for one strategy can never both pass.
type DedupStore struct {
	db     *gorm.DB
	policy models.DedupPolicy

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	granted map[string]grant

	log *logger.Logger
	now func() time.Time
}

type DedupOption func(*DedupStore)

func WithDedupClock(now func() time.Time) DedupOption {
	return func(s *DedupStore) { s.now = now }
}

func WithDedupLogger(l *logger.Logger) DedupOption {
	return func(s *DedupStore) { s.log = l }
}

func NewDedupStore(db *gorm.DB, policy models.DedupPolicy, opts ...DedupOption) *DedupStore {
	s := &DedupStore{
		db:      db,
		policy:  policy,
		locks:   map[string]*sync.Mutex{},
		granted: map[string]grant{},
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Component("dedup_store")
	return s
}

func (s *DedupStore) lock(strategy string) func() {
	s.mu.Lock()
	m, ok := s.locks[strategy]
	if !ok {
		m = &sync.Mutex{}
		s.locks[strategy] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *DedupStore) clock() time.Time { return s.now().UTC() }

// grant remembers the state a strategy had before its latest Acquire, nil for a new setup.
type grant struct {
	candidateID string
	prior       *StrategyState
}

// ShouldAlert evaluates c without changing any state.
func (s *DedupStore) ShouldAlert(ctx context.Context, c models.Candidate) (models.Decision, error) {
	var d models.Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		d, _, err = s.evaluate(tx, c, s.clock())
		return err
	})
	if err != nil {
		return models.Decision{}, fmt.Errorf("should alert %s: %w", c.Strategy, corruption(err))
	}
	return d, nil
}

// RecordAlert stores an accepted alert unconditionally.
func (s *DedupStore) RecordAlert(ctx context.Context, c models.Candidate) error {
	defer s.lock(c.Strategy)()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := loadState(tx, c.Strategy)
		if err != nil {
			return err
		}
		return s.record(tx, st, c, s.clock())
	})
	if err != nil {
		return fmt.Errorf("record alert %s: %w", c.Strategy, corruption(err))
	}
	return nil
}

// Acquire checks and, when allowed, records c in one transaction.
func (s *DedupStore) Acquire(ctx context.Context, c models.Candidate) (models.Decision, error) {
	defer s.lock(c.Strategy)()
	var (
		d     models.Decision
		prior *StrategyState
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		var err error
		d, prior, err = s.evaluate(tx, c, now)
		if err != nil || !d.Allow {
			return err
		}
		return s.record(tx, prior, c, now)
	})
	if err != nil {
		return models.Decision{}, fmt.Errorf("acquire %s: %w", c.Strategy, corruption(err))
	}
	if d.Allow {
		s.mu.Lock()
		s.granted[c.Strategy] = grant{candidateID: c.ID, prior: prior}
		s.mu.Unlock()
		s.log.Debug("alert slot acquired",
			logger.String("strategy", c.Strategy),
			logger.Int("confidence", c.Confidence),
			logger.String("reason", d.Reason))
	}
	return d, nil
}

// Release undoes the latest Acquire of c when the accepted alert could not be queued:
// the alert log row and its counters are removed and the prior state is restored.
// Only the most recent grant of a strategy can be released, and only by this process.
func (s *DedupStore) Release(ctx context.Context, c models.Candidate) error {
	defer s.lock(c.Strategy)()
	s.mu.Lock()
	g, ok := s.granted[c.Strategy]
	if ok && g.candidateID == c.ID {
		delete(s.granted, c.Strategy)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("release %s: %w", c.Strategy, models.ErrNotFound)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry AlertLog
		err := tx.Where("strategy = ? AND candidate_id = ?", c.Strategy, c.ID).
			Order("alert_time_ms DESC").Take(&entry).Error
		if err != nil {
			return fmt.Errorf("load alert log: %w", err)
		}
		if err := tx.Delete(&entry).Error; err != nil {
			return fmt.Errorf("delete alert log: %w", err)
		}

		at := time.UnixMilli(entry.AlertTimeMs).UTC()
		err = tx.Model(&HourlyCount{}).
			Where("hour_key = ? AND alert_count > 0", util.HourKey(at)).
			Update("alert_count", gorm.Expr("alert_count - 1")).Error
		if err != nil {
			return fmt.Errorf("drop hourly count: %w", err)
		}
		tierCol := tierColumn(models.Tier(entry.Tier))
		err = tx.Model(&DailyStat{}).
			Where("date = ? AND total_alerts > 0", util.DayKey(at)).
			Updates(map[string]any{
				"total_alerts": gorm.Expr("total_alerts - 1"),
				tierCol:        gorm.Expr(tierCol + " - 1"),
			}).Error
		if err != nil {
			return fmt.Errorf("drop daily stats: %w", err)
		}

		if g.prior == nil {
			return tx.Where("strategy = ?", c.Strategy).Delete(&StrategyState{}).Error
		}
		return tx.Save(g.prior).Error
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", c.Strategy, corruption(err))
	}
	s.log.Warn("alert slot released", logger.String("strategy", c.Strategy), logger.String("candidate", c.ID))
	return nil
}

// evaluate applies, in order: new setup, cooldown, confidence delta, daily cap, hourly cap.
func (s *DedupStore) evaluate(tx *gorm.DB, c models.Candidate, now time.Time) (models.Decision, *StrategyState, error) {
	st, err := loadState(tx, c.Strategy)
	if err != nil {
		return models.Decision{}, nil, err
	}
	if st == nil {
		// a first setup is never capped
		return models.Decision{Allow: true, Reason: models.ReasonNew}, nil, nil
	}

	if now.Before(st.CooldownUntil) {
		left := st.CooldownUntil.Sub(now)
		return deny(models.ReasonCooldown, "%.1fh remaining", left.Hours()), st, nil
	}
	if delta := abs(c.Confidence - st.LastConfidence); delta < s.policy.MinConfidenceDelta {
		return deny(models.ReasonDelta, "delta %d, need %d", delta, s.policy.MinConfidenceDelta), st, nil
	}
	if daily := dailyCount(st, now); s.policy.MaxPerDay > 0 && daily >= s.policy.MaxPerDay {
		return deny(models.ReasonDailyCap, "%d/%d today", daily, s.policy.MaxPerDay), st, nil
	}
	hourly, err := hourlyCount(tx, now)
	if err != nil {
		return models.Decision{}, nil, err
	}
	if s.policy.MaxPerHour > 0 && hourly >= s.policy.MaxPerHour {
		return deny(models.ReasonHourlyCap, "%d/%d this hour", hourly, s.policy.MaxPerHour), st, nil
	}
	return models.Decision{Allow: true, Reason: models.ReasonAccepted}, st, nil
}

func (s *DedupStore) record(tx *gorm.DB, st *StrategyState, c models.Candidate, now time.Time) error {
	tier := c.Tier
	if !tier.Valid() {
		tier = models.TierFor(c.Strategy)
	}
	day := util.DayKey(now)

	next := StrategyState{
		Strategy:       c.Strategy,
		LastAlertTime:  now,
		LastConfidence: c.Confidence,
		LastDirection:  string(c.Direction),
		Tier:           int(tier),
		CooldownUntil:  now.Add(s.policy.Cooldown(tier)),
		DayKey:         day,
		DailyCount:     1,
		UpdatedAt:      now,
	}
	if st != nil {
		next.DailyCount = dailyCount(st, now) + 1
	}
	if err := tx.Save(&next).Error; err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	if err := tx.Create(&AlertLog{
		Strategy:    c.Strategy,
		AlertTimeMs: toMs(now),
		Confidence:  c.Confidence,
		Direction:   string(c.Direction),
		Tier:        int(tier),
		CandidateID: c.ID,
	}).Error; err != nil {
		return fmt.Errorf("insert alert log: %w", err)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hour_key"}},
		DoUpdates: clause.Assignments(map[string]any{"alert_count": gorm.Expr("alert_count + 1")}),
	}).Create(&HourlyCount{HourKey: util.HourKey(now), AlertCount: 1}).Error
	if err != nil {
		return fmt.Errorf("bump hourly count: %w", err)
	}

	stat := DailyStat{Date: day, TotalAlerts: 1}
	tierCol := tierColumn(tier)
	switch tier {
	case models.TierCritical:
		stat.Tier1Alerts = 1
	case models.TierHigh:
		stat.Tier2Alerts = 1
	default:
		stat.Tier3Alerts = 1
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_alerts": gorm.Expr("total_alerts + 1"),
			tierCol:        gorm.Expr(tierCol + " + 1"),
		}),
	}).Create(&stat).Error
	if err != nil {
		return fmt.Errorf("bump daily stats: %w", err)
	}
	return nil
}

// RecordSuppression counts a denied candidate in today's stats.
func (s *DedupStore) RecordSuppression(ctx context.Context, strategy, reason string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{"suppressed_alerts": gorm.Expr("suppressed_alerts + 1")}),
	}).Create(&DailyStat{Date: util.DayKey(s.clock()), SuppressedAlerts: 1}).Error
	if err != nil {
		return fmt.Errorf("record suppression %s: %w", strategy, corruption(err))
	}
	s.log.Debug("alert suppressed", logger.String("strategy", strategy), logger.String("reason", reason))
	return nil
}

// Get returns the strategy's record with the current daily and global hourly counts.
func (s *DedupStore) Get(ctx context.Context, strategy string) (models.DedupRecord, error) {
	db := s.db.WithContext(ctx)
	st, err := loadState(db, strategy)
	if err != nil {
		return models.DedupRecord{}, fmt.Errorf("get %s: %w", strategy, corruption(err))
	}
	if st == nil {
		return models.DedupRecord{}, fmt.Errorf("get %s: %w", strategy, models.ErrNotFound)
	}
	now := s.clock()
	hourly, err := hourlyCount(db, now)
	if err != nil {
		return models.DedupRecord{}, fmt.Errorf("get %s: %w", strategy, corruption(err))
	}
	return models.DedupRecord{
		Strategy:       st.Strategy,
		LastAlertTime:  st.LastAlertTime.UTC(),
		LastConfidence: st.LastConfidence,
		LastDirection:  models.Direction(st.LastDirection),
		Tier:           models.Tier(st.Tier),
		CooldownUntil:  st.CooldownUntil.UTC(),
		DailyCount:     dailyCount(st, now),
		HourlyCount:    hourly,
	}, nil
}

// Reset clears the strategy's cooldown and daily count.
func (s *DedupStore) Reset(ctx context.Context, strategy string) error {
	defer s.lock(strategy)()
	res := s.db.WithContext(ctx).Where("strategy = ?", strategy).Delete(&StrategyState{})
	if res.Error != nil {
		return fmt.Errorf("reset %s: %w", strategy, corruption(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reset %s: %w", strategy, models.ErrNotFound)
	}
	s.log.Info("strategy state reset", logger.String("strategy", strategy))
	return nil
}

// RecentCounts counts accepted alerts over the trailing hour and day.
func (s *DedupStore) RecentCounts(ctx context.Context) (models.AlertCounts, error) {
	now := s.clock()
	db := s.db.WithContext(ctx).Model(&AlertLog{})
	var hour, day int64
	if err := db.Where("alert_time_ms > ?", toMs(now.Add(-time.Hour))).Count(&hour).Error; err != nil {
		return models.AlertCounts{}, fmt.Errorf("count last hour: %w", corruption(err))
	}
	db = s.db.WithContext(ctx).Model(&AlertLog{})
	if err := db.Where("alert_time_ms > ?", toMs(now.Add(-24*time.Hour))).Count(&day).Error; err != nil {
		return models.AlertCounts{}, fmt.Errorf("count last day: %w", corruption(err))
	}
	return models.AlertCounts{LastHour: int(hour), LastDay: int(day)}, nil
}

// DailyStats returns up to days rows, newest first.
func (s *DedupStore) DailyStats(ctx context.Context, days int) ([]models.DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	var rows []DailyStat
	if err := s.db.WithContext(ctx).Order("date DESC").Limit(days).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("daily stats: %w", corruption(err))
	}
	out := make([]models.DailyStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.DailyStats{
			Date:       r.Date,
			Total:      r.TotalAlerts,
			Tier1:      r.Tier1Alerts,
			Tier2:      r.Tier2Alerts,
			Tier3:      r.Tier3Alerts,
			Suppressed: r.SuppressedAlerts,
		})
	}
	return out, nil
}

// Cleanup drops alert log rows and hourly buckets older than olderThan. Daily stats are kept.
func (s *DedupStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.clock().Add(-olderThan)
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("alert_time_ms < ?", toMs(cutoff)).Delete(&AlertLog{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		res = tx.Where("hour_key < ?", util.HourKey(cutoff)).Delete(&HourlyCount{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", corruption(err))
	}
	if removed > 0 {
		s.log.Info("dedup history pruned", logger.Int64("rows", removed), logger.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (s *DedupStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// loadState returns nil when the strategy has never alerted.
// Rows that violate the record's invariants are reported as corruption.
func loadState(db *gorm.DB, strategy string) (*StrategyState, error) {
	var st StrategyState
	err := db.Where("strategy = ?", strategy).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !models.Tier(st.Tier).Valid() || st.LastConfidence < 0 || st.LastConfidence > 100 ||
		st.CooldownUntil.Before(st.LastAlertTime) || st.DailyCount < 0 {
		return nil, fmt.Errorf("%w: invalid record for %q", models.ErrStoreCorruption, strategy)
	}
	return &st, nil
}

func hourlyCount(db *gorm.DB, now time.Time) (int, error) {
	var hc HourlyCount
	err := db.Where("hour_key = ?", util.HourKey(now)).Take(&hc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load hourly count: %w", err)
	}
	return hc.AlertCount, nil
}

func dailyCount(st *StrategyState, now time.Time) int {
	if st.DayKey != util.DayKey(now) {
		return 0
	}
	return st.DailyCount
}

func deny(reason, format string, args ...any) models.Decision {
	return models.Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tierColumn(t models.Tier) string {
	switch t {
	case models.TierCritical:
		return "tier_1_alerts"
	case models.TierHigh:
		return "tier_2_alerts"
	}
	return "tier_3_alerts"
}
