package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
)

type Config struct {
	MinSamples         int     `yaml:"min_samples" default:"50" validate:"gte=1"`
	RetrainEvery       int     `yaml:"retrain_every" default:"50" validate:"gte=1"`
	HistorySize        int     `yaml:"history_size" default:"1000" validate:"gte=1"`
	TrainWindow        int     `yaml:"train_window" default:"500" validate:"gte=1"`
	ModelWeight        float64 `yaml:"model_weight" default:"0.6" validate:"gte=0,lte=1"`
	MaxAlerts          int     `yaml:"max_alerts" default:"5" validate:"gte=0"`
	BundleThreshold    int     `yaml:"bundle_threshold" default:"3" validate:"gte=2"`
	BundleScoreCeiling float64 `yaml:"bundle_score_ceiling" default:"70" validate:"gte=0,lte=100"`
}

func DefaultConfig() Config {
	return Config{
		MinSamples:         50,
		RetrainEvery:       50,
		HistorySize:        1000,
		TrainWindow:        500,
		ModelWeight:        0.6,
		MaxAlerts:          5,
		BundleThreshold:    3,
		BundleScoreCeiling: 70,
	}
}

// Scorer blends the anomaly model with the heuristic and ranks candidates.
type Scorer struct {
	cfg Config
	log *logger.Logger

	mu         sync.RWMutex
	model      AnomalyModel
	ring       [][]float64
	sinceTrain int
}

func New(cfg Config, log *logger.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.RetrainEvery <= 0 {
		cfg.RetrainEvery = def.RetrainEvery
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.TrainWindow <= 0 {
		cfg.TrainWindow = def.TrainWindow
	}
	if cfg.BundleThreshold <= 0 {
		cfg.BundleThreshold = def.BundleThreshold
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scorer{cfg: cfg, log: log}
}

// Score returns 0..100. The model contributes only once trained.
func (s *Scorer) Score(c models.Candidate, density models.AlertCounts) float64 {
	h := Heuristic(c, density)
	s.mu.RLock()
	ml, ok := s.model.Score(Features(c, density))
	s.mu.RUnlock()
	if !ok {
		return h
	}
	return clamp(s.cfg.ModelWeight*ml + (1-s.cfg.ModelWeight)*h)
}

// Prioritize scores every candidate and keeps the best maxN (all when maxN <= 0).
// Ties go to the more urgent tier, then the higher confidence.
func (s *Scorer) Prioritize(cs []models.Candidate, density models.AlertCounts, maxN int) []models.ScoredCandidate {
	scored := lo.Map(cs, func(c models.Candidate, _ int) models.ScoredCandidate {
		return models.ScoredCandidate{Candidate: c, Score: s.Score(c, density)}
	})
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.Confidence > b.Confidence
	})
	if maxN > 0 && len(scored) > maxN {
		scored = scored[:maxN]
	}
	return scored
}

// ShouldBundle is true for at least BundleThreshold candidates sharing strategy and tier
// whose average score is under the ceiling.
func (s *Scorer) ShouldBundle(cs []models.ScoredCandidate) bool {
	if len(cs) < s.cfg.BundleThreshold {
		return false
	}
	first := cs[0]
	for _, c := range cs[1:] {
		if c.Strategy != first.Strategy || c.Tier != first.Tier {
			return false
		}
	}
	avg := lo.SumBy(cs, func(c models.ScoredCandidate) float64 { return c.Score }) / float64(len(cs))
	return avg < s.cfg.BundleScoreCeiling
}

// Observe adds one feature vector to the training ring and retrains when due.
func (s *Scorer) Observe(features []float64) (retrained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(features)
	return s.maybeTrainLocked()
}

func (s *Scorer) push(features []float64) {
	s.ring = append(s.ring, features)
	if over := len(s.ring) - s.cfg.HistorySize; over > 0 {
		s.ring = append([][]float64(nil), s.ring[over:]...)
	}
	s.sinceTrain++
}

func (s *Scorer) maybeTrainLocked() bool {
	if len(s.ring) < s.cfg.MinSamples {
		return false
	}
	if s.model.State() == Trained && s.sinceTrain < s.cfg.RetrainEvery {
		return false
	}
	window := s.ring
	if len(window) > s.cfg.TrainWindow {
		window = window[len(window)-s.cfg.TrainWindow:]
	}
	if !s.model.Fit(window, s.cfg.MinSamples) {
		return false
	}
	s.sinceTrain = 0
	s.log.Info("scoring model trained", logger.Int("samples", len(window)))
	return true
}

// WarmStart loads recent history so the model can be trained right after restart.
func (s *Scorer) WarmStart(ctx context.Context, history repository.CandidateHistory) error {
	recs, err := history.Recent(ctx, s.cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if len(r.Features) == numFeatures {
			s.push(r.Features)
		}
	}
	s.maybeTrainLocked()
	s.log.Info("scorer warm start", logger.Int("records", len(recs)), logger.String("model", s.model.State().String()))
	return nil
}

// State reports the model state and the size of its last training window.
func (s *Scorer) State() (ModelState, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.State(), s.model.Samples()
}

func (s *Scorer) Config() Config { return s.cfg }
