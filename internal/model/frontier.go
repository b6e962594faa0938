package model

// Frontier is the deduplicated, size-bounded list of references waiting to
// be fetched. It is mutated only by the frontier collector.
//
// Invariants:
//   - len(Sequence) <= TargetCount
//   - every reference in Sequence has a distinct ItemID
//   - SeenIDs contains the ID of every reference in Sequence, plus IDs that
//     were seen and deliberately excluded (deleted posts)
type Frontier struct {
	// Group is the community the frontier was built for.
	Group string

	// Sequence holds the accepted references in discovery order.
	Sequence []ItemReference

	// SeenIDs is the dedup set.
	SeenIDs map[ItemID]struct{}

	// Cursors holds the opaque "before" pagination cursor per listing source.
	Cursors map[string]string

	// TargetCount is the maximum size of Sequence.
	TargetCount int

	// Complete is set once collection has finished (target reached or every
	// source stopped).
	Complete bool
}

// NewFrontier creates an empty frontier for a group.
func NewFrontier(group string, targetCount int) *Frontier {
	return &Frontier{
		Group:       group,
		Sequence:    make([]ItemReference, 0),
		SeenIDs:     make(map[ItemID]struct{}),
		Cursors:     make(map[string]string),
		TargetCount: targetCount,
	}
}

// Len returns the number of accepted references.
func (f *Frontier) Len() int {
	return len(f.Sequence)
}

// Full reports whether the frontier has reached its target size.
func (f *Frontier) Full() bool {
	return len(f.Sequence) >= f.TargetCount
}

// Seen reports whether the ID has already been accepted or excluded.
func (f *Frontier) Seen(id ItemID) bool {
	_, ok := f.SeenIDs[id]
	return ok
}

// MarkSeen records an ID without accepting its reference.
func (f *Frontier) MarkSeen(id ItemID) {
	if f.SeenIDs == nil {
		f.SeenIDs = make(map[ItemID]struct{})
	}
	f.SeenIDs[id] = struct{}{}
}

// Add appends a reference when its ItemID is new and the frontier is not full.
// It returns false for duplicates, references without an ItemID, and when full.
func (f *Frontier) Add(ref ItemReference) bool {
	if f.Full() {
		return false
	}
	id, ok := ref.ID()
	if !ok || f.Seen(id) {
		return false
	}
	f.MarkSeen(id)
	f.Sequence = append(f.Sequence, ref)
	return true
}

// CountBySource returns how many accepted references each source tag produced.
func (f *Frontier) CountBySource() map[string]int {
	counts := make(map[string]int)
	for _, ref := range f.Sequence {
		counts[ref.SourceTag]++
	}
	return counts
}

// Cursor returns the pagination cursor stored for a source.
func (f *Frontier) Cursor(source string) string {
	return f.Cursors[source]
}

// SetCursor stores the pagination cursor for a source.
func (f *Frontier) SetCursor(source, cursor string) {
	if f.Cursors == nil {
		f.Cursors = make(map[string]string)
	}
	f.Cursors[source] = cursor
}

// SingleItem returns the ID of the post a single-post frontier was built for.
func (f *Frontier) SingleItem() (ItemID, bool) {
	if len(f.Sequence) != 1 || f.Sequence[0].SourceTag != SourceSingleItem {
		return "", false
	}
	return f.Sequence[0].ID()
}

// ScopeKey names the files a fetch of this frontier writes (checkpoints and
// range documents). It is the group, or <group>_item_<id> for a single post,
// so a single-post run never shares files with its community's crawl.
func (f *Frontier) ScopeKey() string {
	if id, ok := f.SingleItem(); ok {
		return f.Group + "_item_" + id.String()
	}
	return f.Group
}
