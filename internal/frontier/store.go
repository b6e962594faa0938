package frontier

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/threadkeep/internal/docstore"
	"github.com/nao1215/threadkeep/internal/model"
)

// FilePath returns the frontier document path of a group: <dir>/<group>_urls.json.
func FilePath(dir, group string) string {
	return filepath.Join(dir, group+"_urls.json")
}

// cursorValue accepts a cursor written either as a string or as a bare
// epoch number, which older frontier files used for before_timestamp.
type cursorValue string

func (c *cursorValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = cursorValue(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor must be a string or a number: %w", err)
	}
	*c = cursorValue(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// state is the on-disk frontier document.
type state struct {
	GroupName       string                 `json:"group_name"`
	TargetCount     int                    `json:"target_count"`
	TotalCollected  int                    `json:"total_collected"`
	IsComplete      bool                   `json:"is_complete"`
	Cursors         map[string]cursorValue `json:"cursors"`
	BeforeTimestamp cursorValue            `json:"before_timestamp,omitempty"`
	CollectedURLs   []model.ItemReference  `json:"collected_urls"`
	ScannedPostIDs  []string               `json:"scanned_post_ids"`
	LastUpdated     time.Time              `json:"last_updated"`

	// Keys written by older versions.
	LegacyMaxPosts      int    `json:"max_posts,omitempty"`
	LegacySubredditName string `json:"subreddit_name,omitempty"`
}

// Store persists a frontier as a JSON document, replacing it atomically.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for the document at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a frontier has been saved.
func (s *Store) Exists() bool {
	return docstore.Exists(s.path)
}

// Save writes the frontier.
func (s *Store) Save(f *model.Frontier) error {
	st := state{
		GroupName:      f.Group,
		TargetCount:    f.TargetCount,
		TotalCollected: f.Len(),
		IsComplete:     f.Complete,
		Cursors:        make(map[string]cursorValue, len(f.Cursors)),
		CollectedURLs:  f.Sequence,
		ScannedPostIDs: make([]string, 0, len(f.SeenIDs)),
		LastUpdated:    s.now().UTC(),
	}
	for source, cursor := range f.Cursors {
		st.Cursors[source] = cursorValue(cursor)
	}
	st.BeforeTimestamp = st.Cursors["new"]
	for id := range f.SeenIDs {
		st.ScannedPostIDs = append(st.ScannedPostIDs, id.String())
	}
	slices.Sort(st.ScannedPostIDs)
	if st.CollectedURLs == nil {
		st.CollectedURLs = []model.ItemReference{}
	}

	if err := docstore.WriteJSON(s.path, st); err != nil {
		return fmt.Errorf("failed to save frontier: %w", err)
	}
	return nil
}

// Load reads the frontier. It returns ErrNoState when nothing was saved.
// References without a source tag are tagged model.SourceUnknown.
func (s *Store) Load() (*model.Frontier, error) {
	var st state
	if err := docstore.ReadJSON(s.path, &st); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("failed to load frontier: %w", err)
	}

	group := st.GroupName
	if group == "" {
		group = st.LegacySubredditName
	}
	target := st.TargetCount
	if target == 0 {
		target = st.LegacyMaxPosts
	}

	f := model.NewFrontier(group, target)
	f.Complete = st.IsComplete
	for source, cursor := range st.Cursors {
		f.SetCursor(source, string(cursor))
	}
	if len(st.Cursors) == 0 && st.BeforeTimestamp != "" {
		f.SetCursor("new", string(st.BeforeTimestamp))
	}
	for _, id := range st.ScannedPostIDs {
		f.MarkSeen(model.ItemID(id))
	}
	loaded := make(map[model.ItemID]struct{}, len(st.CollectedURLs))
	for _, ref := range st.CollectedURLs {
		if ref.SourceTag == "" {
			ref.SourceTag = model.SourceUnknown
		}
		id, ok := ref.ID()
		if !ok {
			continue
		}
		if _, dup := loaded[id]; dup {
			continue
		}
		loaded[id] = struct{}{}
		// bypass Add: a saved frontier may exceed a lowered target
		f.MarkSeen(id)
		f.Sequence = append(f.Sequence, ref)
	}
	return f, nil
}
