// Package resolver diffs discovered migrations against applied history
// rows, classifies each into a reporting state, and produces the ordered
// list of migrations the executor should run.
package resolver

import (
	"sort"

	"github.com/MemberJunction/skyway/history"
	"github.com/MemberJunction/skyway/migration"
)

// BaselineSentinel is the magic baselineVersion value meaning "not
// explicitly set": when baselines exist and shouldBaseline holds, the
// highest-versioned baseline is auto-selected instead of an explicit match.
const BaselineSentinel = "1"

// StatusEntry is one row of the Info report: a discovered-or-applied
// migration with its classified state.
type StatusEntry struct {
	Info  migration.Info
	State migration.State
}

// Result is the outcome of Resolve.
type Result struct {
	// Pending is the ordered list of migrations to execute: baseline (if
	// selected) first, then versioned ascending, then repeatables in
	// discovery order.
	Pending []migration.Resolved
	// StatusReport is the union of disk and history entries with their
	// classified state, for Info.
	StatusReport []StatusEntry
	// ShouldBaseline reports whether baselining was eligible for this run
	// (baselineOnMigrate and no prior SQL/SQL_BASELINE/BASELINE history).
	ShouldBaseline bool
	// EffectiveBaselineVersion is the version of the selected baseline, or
	// empty if none was selected.
	EffectiveBaselineVersion string
	// BaselineAutoSelected reports whether the highest-versioned baseline
	// was chosen because baselineVersion was the "1" sentinel.
	BaselineAutoSelected bool
	// BaselineFileCount is the number of baseline files discovered on disk.
	BaselineFileCount int
}

// Resolve classifies discovered against applied and produces the pending
// execution list. baselineVersion is the configured value (BaselineSentinel
// for "auto"); baselineOnMigrate and outOfOrder mirror the runtime config
// keys of the same name.
func Resolve(discovered []migration.Resolved, applied []history.Record, baselineVersion string, baselineOnMigrate, outOfOrder bool) Result {
	versioned, baselines, repeatables := partition(discovered)
	sortByVersion(versioned)
	sortByVersion(baselines)

	appliedByVersion := make(map[string]history.Record)
	appliedRepeatables := make(map[string]history.Record) // description -> latest row
	var highestApplied string
	hasPriorMigrations := false
	for _, r := range applied {
		if r.Type == history.RowSchema {
			continue
		}
		hasPriorMigrations = true
		if r.Version.Valid {
			appliedByVersion[r.Version.String] = r
			if r.Version.String > highestApplied {
				highestApplied = r.Version.String
			}
		} else if r.Type == history.RowSQL {
			if prev, ok := appliedRepeatables[r.Description]; !ok || r.InstalledRank > prev.InstalledRank {
				appliedRepeatables[r.Description] = r
			}
		}
	}

	res := Result{
		ShouldBaseline:    baselineOnMigrate && !hasPriorMigrations,
		BaselineFileCount: len(baselines),
	}

	var selected *migration.Resolved
	if res.ShouldBaseline && len(baselines) > 0 {
		if baselineVersion == BaselineSentinel {
			selected = &baselines[len(baselines)-1]
			res.BaselineAutoSelected = true
		} else {
			for i := range baselines {
				if baselines[i].Version == baselineVersion {
					selected = &baselines[i]
					break
				}
			}
		}
	}
	if selected != nil {
		res.EffectiveBaselineVersion = selected.Version
		res.Pending = append(res.Pending, *selected)
		res.StatusReport = append(res.StatusReport, StatusEntry{Info: selected.Info, State: migration.StatePending})
	}

	for _, v := range versioned {
		switch {
		case isAppliedVersion(appliedByVersion, v.Version):
			rec := appliedByVersion[v.Version]
			state := migration.StateApplied
			if !rec.Success {
				state = migration.StateFailed
			}
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: v.Info, State: state})
		case selected != nil && v.Version <= res.EffectiveBaselineVersion:
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: v.Info, State: migration.StateAboveBaseline})
		case !outOfOrder && highestApplied != "" && v.Version < highestApplied:
			// Visible but intentionally not executed: out of order and disallowed.
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: v.Info, State: migration.StatePending})
		default:
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: v.Info, State: migration.StatePending})
			res.Pending = append(res.Pending, v)
		}
	}

	diskVersions := make(map[string]bool, len(versioned)+len(baselines))
	for _, v := range versioned {
		diskVersions[v.Version] = true
	}
	for _, b := range baselines {
		diskVersions[b.Version] = true
	}
	for _, r := range applied {
		if r.Type == history.RowSchema || !r.Version.Valid {
			continue
		}
		if !diskVersions[r.Version.String] {
			res.StatusReport = append(res.StatusReport, StatusEntry{
				Info:  migration.Info{Type: migration.Versioned, Version: r.Version.String, Description: r.Description},
				State: migration.StateMissing,
			})
		}
	}

	for _, rp := range repeatables {
		prev, ok := appliedRepeatables[rp.Description]
		switch {
		case !ok:
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: rp.Info, State: migration.StatePending})
			res.Pending = append(res.Pending, rp)
		case !prev.Checksum.Valid || prev.Checksum.Int32 != rp.Checksum:
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: rp.Info, State: migration.StateOutdated})
			res.Pending = append(res.Pending, rp)
		default:
			res.StatusReport = append(res.StatusReport, StatusEntry{Info: rp.Info, State: migration.StateApplied})
		}
	}

	return res
}

func isAppliedVersion(m map[string]history.Record, version string) bool {
	_, ok := m[version]
	return ok
}

func partition(discovered []migration.Resolved) (versioned, baselines, repeatables []migration.Resolved) {
	for _, m := range discovered {
		switch m.Type {
		case migration.Versioned:
			versioned = append(versioned, m)
		case migration.Baseline:
			baselines = append(baselines, m)
		case migration.Repeatable:
			repeatables = append(repeatables, m)
		}
	}
	return
}

func sortByVersion(ms []migration.Resolved) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
}
