// Package retention decides, per interval class, which snapshots are
// keepers versus expired.
package retention

import (
	"sort"
	"time"

	"github.com/hkoerber/rbackupd/internal/catalog"
	"github.com/hkoerber/rbackupd/internal/repository"
)

// Keepers returns the set of catalog entries (by Name) that at least one
// class protects, given the repository's interval classes and a catalog
// scanned at `now`. A snapshot may be tagged under several classes via
// aliasing; the union-across-classes rule means it's a keeper if any one
// class keeps it.
func Keepers(repo repository.Repository, cat *catalog.Catalog, now time.Time) map[string]bool {
	keepers := make(map[string]bool)
	for _, class := range repo.Intervals {
		entries := cat.ListTask(repo.TaskName, class.Name)
		// Descending timestamp order so the first KeepCount entries are the
		// newest.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })

		cutoff, hasCutoff := class.KeepAgeCutoff(now)

		for i, e := range entries {
			byCount := i < class.KeepCount
			byAge := hasCutoff && !e.Timestamp.Before(cutoff)
			if byCount || byAge {
				keepers[e.Name()] = true
			}
		}
	}
	return keepers
}

// Expired returns every catalog entry belonging to the repository's task
// that no class protects, oldest first, the order the expiration executor
// processes them in.
func Expired(repo repository.Repository, cat *catalog.Catalog, now time.Time) []catalog.Entry {
	keepers := Keepers(repo, cat, now)

	var expired []catalog.Entry
	for _, e := range cat.AllTask(repo.TaskName) {
		if !keepers[e.Name()] {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Timestamp.Before(expired[j].Timestamp) })
	return expired
}
