package sync

import (
	"sort"

	"github.com/piframe/piframe/pkg/store"
)

// Plan is the set of file operations that makes the store converge with
// the remote listing.
type Plan struct {
	// Download are remote items to fetch into the store.
	Download []Item

	// DeleteLocal are store paths to remove, together with their manifest
	// entries.
	DeleteLocal []string

	// AdoptRemote are remote items whose bytes are already on disk; only
	// the manifest entry is missing.
	AdoptRemote []Item

	// AdoptLocal are local-only files to record with OriginLocal so that
	// later cycles recognize them. The one-directional strategy never
	// uploads or deletes them.
	AdoptLocal []store.FileInfo

	// Push are locally added or modified files to upload. Only produced in
	// bidirectional mode.
	Push []store.FileInfo

	// DeleteRemote are remote paths whose locally-owned counterpart was
	// deleted. Only produced in bidirectional mode.
	DeleteRemote []string

	// Refresh are paths that are already in sync; their manifest entries
	// get a new last-seen stamp.
	Refresh []string
}

// Empty returns whether the plan requires no file operations. A cycle with
// an empty plan is a no-op, which is what makes repeated cycles against an
// unchanged listing idempotent.
func (p Plan) Empty() bool {
	return len(p.Download) == 0 && len(p.DeleteLocal) == 0 &&
		len(p.AdoptRemote) == 0 && len(p.AdoptLocal) == 0 &&
		len(p.Push) == 0 && len(p.DeleteRemote) == 0
}

// ComputePlan diffs the remote listing against the manifest and the files
// on disk.
//
// In one-directional mode the remote is authoritative: remote changes are
// downloaded, remote deletions are applied locally, and local-only files
// are preserved but never uploaded.
//
// In bidirectional mode both sides are diffed against the manifest (the
// state both sides agreed on last cycle). A path changed on only one side
// syncs that side's version; a path changed on both sides is a genuine
// conflict, resolved by most-recent-modification-time with the remote
// winning ties, which keeps repeated runs deterministic.
//
// deletedLocally are manifest entries whose file disappeared from disk
// (found by store.Reconcile). Entries we downloaded are re-synced; entries
// we pushed propagate the deletion to the remote in bidirectional mode.
func ComputePlan(remote []Item, manifest store.Manifest, local []store.FileInfo,
	deletedLocally []store.Record, bidirectional bool) Plan {

	remoteByPath := map[string]Item{}
	for _, item := range remote {
		remoteByPath[item.Path] = item
	}
	localByPath := map[string]store.FileInfo{}
	for _, f := range local {
		localByPath[f.Path] = f
	}

	var plan Plan
	for _, item := range remote {
		localFile, onDisk := localByPath[item.Path]
		record, tracked := manifest[item.Path]

		switch {
		case !onDisk:
			plan.Download = append(plan.Download, item)

		case !tracked:
			// A file with no manifest entry needs classification: if its
			// fingerprint matches the remote's it was fully synced before
			// the entry was lost, otherwise we can't trust it.
			if localFile.Fingerprint.Equal(itemFingerprint(item)) {
				plan.AdoptRemote = append(plan.AdoptRemote, item)
			} else if bidirectional {
				plan.addConflict(item, localFile)
			} else {
				plan.Download = append(plan.Download, item)
			}

		default:
			remoteChanged := !itemFingerprint(item).Equal(record.Fingerprint)
			localChanged := !localFile.Fingerprint.Equal(record.Fingerprint)
			switch {
			case !remoteChanged && !localChanged:
				plan.Refresh = append(plan.Refresh, item.Path)
			case remoteChanged && !localChanged:
				plan.Download = append(plan.Download, item)
			case !remoteChanged && localChanged:
				if bidirectional {
					plan.Push = append(plan.Push, localFile)
				} else {
					plan.Download = append(plan.Download, item)
				}
			default:
				if bidirectional {
					plan.addConflict(item, localFile)
				} else {
					plan.Download = append(plan.Download, item)
				}
			}
		}
	}

	// Tracked files that vanished from the remote listing.
	for path, record := range manifest {
		if _, ok := remoteByPath[path]; ok {
			continue
		}
		if _, onDisk := localByPath[path]; !onDisk {
			continue
		}

		switch {
		case record.Origin == store.OriginLocal && !bidirectional:
			// Local-only files are never deleted by the one-directional
			// strategy.
			plan.Refresh = append(plan.Refresh, path)
		case record.Origin == store.OriginLocal && bidirectional:
			plan.Push = append(plan.Push, localByPath[path])
		default:
			plan.DeleteLocal = append(plan.DeleteLocal, path)
		}
	}

	// Files on disk that neither the manifest nor the remote knows about.
	for _, f := range local {
		if _, ok := manifest[f.Path]; ok {
			continue
		}
		if _, ok := remoteByPath[f.Path]; ok {
			continue
		}
		if bidirectional {
			plan.Push = append(plan.Push, f)
		} else {
			plan.AdoptLocal = append(plan.AdoptLocal, f)
		}
	}

	// Manifest entries whose file disappeared from disk.
	for _, record := range deletedLocally {
		if bidirectional && record.Origin == store.OriginLocal {
			plan.DeleteRemote = append(plan.DeleteRemote, record.Path)
		}
		// Entries of remote origin were already dropped by the caller; if
		// the item is still listed remotely the download branch above
		// re-syncs it.
	}

	sortPlan(&plan)
	return plan
}

// addConflict resolves a both-sides-changed conflict: most recent
// modification time wins, remote wins ties.
func (p *Plan) addConflict(item Item, localFile store.FileInfo) {
	if localFile.ModTime.After(item.ModTime) {
		p.Push = append(p.Push, localFile)
	} else {
		p.Download = append(p.Download, item)
	}
}

func itemFingerprint(item Item) store.Fingerprint {
	return store.Fingerprint{Size: item.Size, ModTime: item.ModTime}
}

// sortPlan orders every slice so that plans are deterministic and log
// output is stable.
func sortPlan(plan *Plan) {
	sort.Slice(plan.Download, func(i, j int) bool {
		return plan.Download[i].Path < plan.Download[j].Path
	})
	sort.Slice(plan.AdoptRemote, func(i, j int) bool {
		return plan.AdoptRemote[i].Path < plan.AdoptRemote[j].Path
	})
	sort.Slice(plan.AdoptLocal, func(i, j int) bool {
		return plan.AdoptLocal[i].Path < plan.AdoptLocal[j].Path
	})
	sort.Slice(plan.Push, func(i, j int) bool {
		return plan.Push[i].Path < plan.Push[j].Path
	})
	sort.Strings(plan.DeleteLocal)
	sort.Strings(plan.DeleteRemote)
	sort.Strings(plan.Refresh)
}
