package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lupppig/dotvault/internal/catalog"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/lupppig/dotvault/internal/storage"
)

type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
}

func (p RetentionPolicy) empty() bool {
	return p.KeepDaily == 0 && p.KeepWeekly == 0 && p.KeepMonthly == 0 && p.KeepYearly == 0
}

type PruneOptions struct {
	Retention       time.Duration
	Keep            int
	RetentionPolicy RetentionPolicy
	DryRun          bool
	Logger          *logger.Logger
	Now             func() time.Time
}

// PruneManager removes old archives kept in one storage directory together
// with their catalog entries.
type PruneManager struct {
	storage storage.Storage
	catalog Catalog
	options PruneOptions
}

func NewPruneManager(s storage.Storage, c Catalog, opts PruneOptions) *PruneManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PruneManager{storage: s, catalog: c, options: opts}
}

// ParseRetention accepts Go durations plus a day suffix, e.g. "7d".
func ParseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid retention %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid retention %q", s)
	}
	return d, nil
}

// Prune deletes the entries that fall outside the policy and returns them.
func (m *PruneManager) Prune(ctx context.Context) ([]catalog.Entry, error) {
	policy := m.options.RetentionPolicy
	if m.options.Retention == 0 && m.options.Keep == 0 && policy.empty() {
		return nil, nil
	}
	l := orDiscard(m.options.Logger)

	all, err := m.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog for pruning: %w", err)
	}

	dir, err := filepath.Abs(m.storage.Location())
	if err != nil {
		return nil, err
	}
	var entries []catalog.Entry
	for _, e := range all {
		if filepath.Dir(e.Path) == dir {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// newest first
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	// true means delete, false means explicitly kept
	toDelete := make(map[string]bool)

	if m.options.Keep > 0 {
		for i := 0; i < len(entries) && i < m.options.Keep; i++ {
			toDelete[entries[i].ID] = false
		}
	}

	if !policy.empty() {
		applyGFSRetention(entries, policy, toDelete)
	}

	if m.options.Retention > 0 {
		now := m.options.Now()
		for _, e := range entries {
			if _, protected := toDelete[e.ID]; !protected && now.Sub(e.CreatedAt) > m.options.Retention {
				toDelete[e.ID] = true
			}
		}
	}

	if m.options.Keep > 0 {
		for i := m.options.Keep; i < len(entries); i++ {
			if _, decided := toDelete[entries[i].ID]; !decided {
				toDelete[entries[i].ID] = true
			}
		}
	}

	if !policy.empty() {
		for _, e := range entries {
			if _, decided := toDelete[e.ID]; !decided {
				toDelete[e.ID] = true
			}
		}
	}

	present := make(map[string]bool)
	names, err := m.storage.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, n := range names {
		present[n] = true
	}

	var pruned []catalog.Entry
	for _, e := range entries {
		if !toDelete[e.ID] {
			continue
		}
		name := filepath.Base(e.Path)

		if m.options.DryRun {
			l.Info("[DRY-RUN] Would prune backup", "file", e.Path, "created_at", e.CreatedAt.Format(time.RFC3339))
			pruned = append(pruned, e)
			continue
		}

		l.Info("Pruning old backup", "file", e.Path)
		if present[name] {
			if err := m.storage.Delete(ctx, name); err != nil {
				l.Warn("Failed to prune backup file", "error", err, "file", e.Path)
				continue
			}
		} else {
			l.Warn("Backup file already missing, dropping catalog entry", "file", e.Path)
		}

		if err := m.catalog.Delete(ctx, e.ID); err != nil {
			l.Warn("Failed to remove catalog entry", "error", err, "id", e.ID)
			continue
		}
		pruned = append(pruned, e)
	}

	return pruned, nil
}

// applyGFSRetention keeps the newest entry of each day, week, month and year
// bucket until the policy's counts are used up. entries must be newest first.
func applyGFSRetention(entries []catalog.Entry, policy RetentionPolicy, toKeep map[string]bool) {
	keptDaily, keptWeekly, keptMonthly, keptYearly := 0, 0, 0, 0
	dailyBuckets := make(map[string]bool)
	weeklyBuckets := make(map[string]bool)
	monthlyBuckets := make(map[string]bool)
	yearlyBuckets := make(map[string]bool)

	for _, e := range entries {
		t := e.CreatedAt
		y, mon, d := t.Date()
		wy, w := t.ISOWeek()

		dayKey := fmt.Sprintf("%d-%02d-%02d", y, mon, d)
		weekKey := fmt.Sprintf("%d-W%02d", wy, w)
		monthKey := fmt.Sprintf("%d-%02d", y, mon)
		yearKey := strconv.Itoa(y)

		keepThis := false

		if keptDaily < policy.KeepDaily && !dailyBuckets[dayKey] {
			dailyBuckets[dayKey] = true
			keptDaily++
			keepThis = true
		}
		if keptWeekly < policy.KeepWeekly && !weeklyBuckets[weekKey] {
			weeklyBuckets[weekKey] = true
			keptWeekly++
			keepThis = true
		}
		if keptMonthly < policy.KeepMonthly && !monthlyBuckets[monthKey] {
			monthlyBuckets[monthKey] = true
			keptMonthly++
			keepThis = true
		}
		if keptYearly < policy.KeepYearly && !yearlyBuckets[yearKey] {
			yearlyBuckets[yearKey] = true
			keptYearly++
			keepThis = true
		}

		if keepThis {
			toKeep[e.ID] = false
		}
	}
}
