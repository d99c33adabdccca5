package document

import (
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeKind describes how a field differs between two documents.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// FieldChange is one differing field. Diffs is set for modified fields
// and holds a character-level diff from the local to the remote value.
type FieldChange struct {
	Key    string
	Kind   ChangeKind
	Local  string
	Remote string
	Diffs  []diffmatchpatch.Diff
}

// Diff compares a local document with a remote one from the point of
// view of a server-wins pull: "added" fields exist only remotely and
// would be written, "modified" fields would be overwritten, "removed"
// fields exist only locally and a pull leaves them alone.
func Diff(local, remote Document) []FieldChange {
	dmp := diffmatchpatch.New()

	var changes []FieldChange

	for _, k := range remote.Keys() {
		rv := remote[k]

		lv, ok := local[k]
		switch {
		case !ok:
			changes = append(changes, FieldChange{Key: k, Kind: ChangeAdded, Remote: rv})
		case lv != rv:
			diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(lv, rv, false))
			changes = append(changes, FieldChange{Key: k, Kind: ChangeModified, Local: lv, Remote: rv, Diffs: diffs})
		}
	}

	for _, k := range local.Keys() {
		if _, ok := remote[k]; !ok {
			changes = append(changes, FieldChange{Key: k, Kind: ChangeRemoved, Local: local[k]})
		}
	}

	slices.SortStableFunc(changes, func(a, b FieldChange) int {
		return strings.Compare(a.Key, b.Key)
	})

	return changes
}

// PrettyText renders a modified field's diff for a terminal.
func (c FieldChange) PrettyText() string {
	if len(c.Diffs) == 0 {
		return ""
	}

	return diffmatchpatch.New().DiffPrettyText(c.Diffs)
}
