package bundler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"AlertGate/internal/domain/models"
)

const digestPreview = 5

var tierBadge = map[models.Tier]string{
	models.TierCritical:   "[CRITICAL]",
	models.TierHigh:       "[HIGH]",
	models.TierBackground: "[INFO]",
}

// Format renders a delivery unit as message text.
func Format(u models.DeliveryUnit) string {
	switch {
	case u.Bundle != nil:
		return FormatDigest(*u.Bundle)
	case u.Candidate != nil:
		return FormatSingle(*u.Candidate)
	}
	return ""
}

func FormatSingle(c models.ScoredCandidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %s (confidence %d%%, score %s)\n",
		tierBadge[c.Tier], c.Strategy, c.Direction, c.Confidence,
		decimal.NewFromFloat(c.Score).StringFixed(0))
	if c.Reasoning != "" {
		sb.WriteString(c.Reasoning)
		sb.WriteByte('\n')
	}
	if line := metricsLine(c.Metrics); line != "" {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if len(c.Sources) > 0 {
		fmt.Fprintf(&sb, "Sources: %s\n", strings.Join(c.Sources, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatDigest shows the summary and the first few members.
func FormatDigest(b models.Bundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n\nIndividual alerts:\n", tierBadge[b.Tier], b.Summary)
	for i, m := range b.Members {
		if i == digestPreview {
			break
		}
		fmt.Fprintf(&sb, "%d. %s %d%% - %s\n", i+1, m.Direction, m.Confidence, m.Reasoning)
	}
	if extra := len(b.Members) - digestPreview; extra > 0 {
		fmt.Fprintf(&sb, "...and %d more\n", extra)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var metricLabels = map[string]struct {
	label  string
	places int32
	suffix string
}{
	models.MetricFundingPct:  {"funding", 3, "%"},
	models.MetricOIChange:    {"OI change", 1, "%"},
	models.MetricVolumeRatio: {"volume ratio", 2, "x"},
	models.MetricBasisPct:    {"basis", 3, "%"},
	models.MetricSpreadBps:   {"spread", 1, " bps"},
	models.MetricSizeUSD:     {"size", 0, " USD"},
}

func metricsLine(m map[string]float64) string {
	var parts []string
	for key, ml := range metricLabels {
		v, ok := m[key]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s%s", ml.label, decimal.NewFromFloat(v).StringFixed(ml.places), ml.suffix))
	}
	sort.Strings(parts)
	return strings.Join(parts, " | ")
}
