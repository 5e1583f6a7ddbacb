// Package cvr implements client view records: compact per-client-group
// digests of everything a client group has been told about, and the diffing
// between two digests that drives incremental pulls.
package cvr

import (
	"sort"

	"github.com/lexsynclab/lexsync/backend/internal/store"
)

// Entity namespaces tracked in a client view record.
const (
	NamespaceConversation = "conversation"
	NamespaceMessage      = "message"
	NamespaceWordGroup    = "wordGroup"
	NamespaceClient       = "client"
)

// Entries maps entity id to the row version the client group last saw.
type Entries map[string]int64

// CVR is a snapshot of one client group's view: namespace -> id -> version.
type CVR map[string]Entries

// EntriesFromSearch converts a change-detection query result into CVR entries.
func EntriesFromSearch(results []store.EntityVersion) Entries {
	entries := make(Entries, len(results))
	for _, result := range results {
		entries[result.ID] = result.RowVersion
	}
	return entries
}

// NamespaceDiff lists what changed in one namespace between two CVRs. Puts
// and Dels are sorted so patches are deterministic.
type NamespaceDiff struct {
	Puts []string
	Dels []string
}

// Diff maps namespace to its put/delete sets.
type Diff map[string]NamespaceDiff

// DiffCVR computes the minimal put/delete sets between base and next. Puts
// are ids present in next whose version differs from (or is absent in) base;
// dels are ids present in base but absent from next. Absence is
// authoritative: a deleted-then-recreated id is just a put.
func DiffCVR(base, next CVR) Diff {
	diff := make(Diff)

	namespaces := make(map[string]struct{}, len(base)+len(next))
	for namespace := range base {
		namespaces[namespace] = struct{}{}
	}
	for namespace := range next {
		namespaces[namespace] = struct{}{}
	}

	for namespace := range namespaces {
		baseEntries := base[namespace]
		nextEntries := next[namespace]

		var puts []string
		for id, version := range nextEntries {
			baseVersion, known := baseEntries[id]
			if !known || baseVersion != version {
				puts = append(puts, id)
			}
		}

		var dels []string
		for id := range baseEntries {
			if _, still := nextEntries[id]; !still {
				dels = append(dels, id)
			}
		}

		sort.Strings(puts)
		sort.Strings(dels)
		diff[namespace] = NamespaceDiff{Puts: puts, Dels: dels}
	}

	return diff
}

// IsEmpty reports whether the diff carries no changes at all.
func (d Diff) IsEmpty() bool {
	for _, namespaceDiff := range d {
		if len(namespaceDiff.Puts) > 0 || len(namespaceDiff.Dels) > 0 {
			return false
		}
	}
	return true
}
