package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RetentionPolicy is how many snapshots to keep in each age tier:
// hourly (< 1 day), daily (< 7 days), weekly (< 30 days) and monthly
// (< 365 days). Older snapshots are always removed.
type RetentionPolicy struct {
	Hourly  int `yaml:"hourly"`
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

const (
	day  = 24 * time.Hour
	year = 365 * day
)

// List returns the snapshots in the backup directory, newest first.
func (m *Manager) List() ([]Info, error) {
	return list(m.cfg.Dir)
}

func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ts, err := time.ParseInLocation(fileLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt), time.UTC)
		if err != nil {
			ts = info.ModTime()
		}
		out = append(out, Info{Path: filepath.Join(dir, name), Timestamp: ts, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Prune removes the snapshots the retention policy does not keep and
// returns how many were removed.
func (m *Manager) Prune() (int, error) {
	snapshots, err := m.List()
	if err != nil {
		return 0, err
	}
	doomed := expired(snapshots, m.cfg.Retention, m.now())

	var errs []error
	removed := 0
	for _, path := range doomed {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// expired returns the paths outside policy. snapshots must be newest first.
func expired(snapshots []Info, policy RetentionPolicy, now time.Time) []string {
	tiers := []struct {
		maxAge time.Duration
		keep   int
	}{
		{day, policy.Hourly},
		{7 * day, policy.Daily},
		{30 * day, policy.Weekly},
		{year, policy.Monthly},
	}
	kept := make([]int, len(tiers))

	var out []string
	for _, s := range snapshots {
		age := now.Sub(s.Timestamp)
		tier := -1
		for i, t := range tiers {
			if age < t.maxAge {
				tier = i
				break
			}
		}
		if tier < 0 || kept[tier] >= tiers[tier].keep {
			out = append(out, s.Path)
			continue
		}
		kept[tier]++
	}
	return out
}
