package comment

import (
	"encoding/json"
	"strings"

	"github.com/nao1215/threadkeep/internal/model"
)

// Kind discriminators used by the upstream listing format.
const (
	// KindComment is the kind of a regular comment node.
	KindComment = "t1"
	// KindMore is the kind of a "load more comments" placeholder.
	KindMore = "more"
)

// Parent reference prefixes in flat comment lists.
const (
	commentParentPrefix = "t1_"
	postParentPrefix    = "t3_"
)

// NoText is the text of a comment whose payload carries no body.
const NoText = "[no text]"

// RawNode is one node of a nested comment listing.
type RawNode struct {
	Kind string  `json:"kind"`
	Data RawData `json:"data"`
}

// RawData is the payload of a nested comment node.
// Replies is either an empty string or a listing object, so it is decoded lazily.
type RawData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       *string         `json:"body"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

// rawListing is the wrapper around a list of child nodes.
type rawListing struct {
	Data struct {
		Children []RawNode `json:"children"`
	} `json:"data"`
}

// Children decodes the nested replies of a node.
// An empty or malformed replies field yields no children.
func (d RawData) Children() []RawNode {
	if len(d.Replies) == 0 || d.Replies[0] != '{' {
		return nil
	}
	var listing rawListing
	if err := json.Unmarshal(d.Replies, &listing); err != nil {
		return nil
	}
	return listing.Data.Children
}

func (d RawData) text() string {
	if d.Body == nil {
		return NoText
	}
	return *d.Body
}

// ParseNested converts one nested comment node into a CommentNode.
// It returns nil for "more" placeholders and for filtered comments. The
// replies of a filtered comment are dropped with it.
func ParseNested(raw RawNode) *model.CommentNode {
	if raw.Kind == KindMore {
		return nil
	}
	text := raw.Data.text()
	if ShouldFilter(raw.Data.Author, text) {
		return nil
	}

	node := &model.CommentNode{
		Author:      raw.Data.Author,
		Text:        text,
		Score:       raw.Data.Score,
		CreatedTime: model.FormatTimestamp(raw.Data.CreatedUTC),
	}

	replies := make([]*model.CommentNode, 0)
	for _, child := range raw.Data.Children() {
		if parsed := ParseNested(child); parsed != nil {
			replies = append(replies, parsed)
		}
	}
	node.SetReplies(replies)
	return node
}

// ParseNestedList parses the top-level children of a comment listing.
func ParseNestedList(children []RawNode) []*model.CommentNode {
	roots := make([]*model.CommentNode, 0, len(children))
	for _, child := range children {
		if parsed := ParseNested(child); parsed != nil {
			roots = append(roots, parsed)
		}
	}
	return roots
}

// FlatComment is one record of a flat comment list with a parent pointer.
// ParentID is "t3_<post>" for top-level comments and "t1_<comment>" for replies.
type FlatComment struct {
	ID         string  `json:"id"`
	ParentID   string  `json:"parent_id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

// BuildTreeFromFlat links a flat comment list into a forest.
//
// Filtered comments are left out. A comment whose parent was filtered, is
// missing, or would close a cycle is promoted to the root of the forest.
// Sibling order follows the input order.
//
// Design decision: orphans are promoted rather than dropped. ParseNested drops
// the subtree of a filtered comment because the nested payload only reaches
// replies through their parent. A flat payload lists every reply on its own,
// so a filtered bot comment or a reply whose parent the archive never
// returned still carries text worth keeping.
func BuildTreeFromFlat(comments []FlatComment, rootID string) []*model.CommentNode {
	nodes := make(map[string]*model.CommentNode, len(comments))
	parentOf := make(map[string]string, len(comments))
	order := make([]FlatComment, 0, len(comments))

	for _, c := range comments {
		if c.ID == "" || ShouldFilter(c.Author, c.Body) {
			continue
		}
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		nodes[c.ID] = &model.CommentNode{
			Author:      c.Author,
			Text:        c.Body,
			Score:       c.Score,
			CreatedTime: model.FormatTimestamp(c.CreatedUTC),
			Replies:     make([]*model.CommentNode, 0),
		}
		order = append(order, c)
	}

	roots := make([]*model.CommentNode, 0)
	for _, c := range order {
		node := nodes[c.ID]
		parentID, isReply := replyParent(c.ParentID, rootID)
		parent, ok := nodes[parentID]
		if !isReply || !ok || createsCycle(parentOf, c.ID, parentID) {
			roots = append(roots, node)
			continue
		}
		parentOf[c.ID] = parentID
		parent.Replies = append(parent.Replies, node)
	}

	for _, node := range nodes {
		node.ReplyCount = len(node.Replies)
	}
	return roots
}

// replyParent extracts the parent comment ID from a parent pointer.
// It returns false when the comment replies to the post itself.
func replyParent(parentRef, rootID string) (string, bool) {
	switch {
	case strings.HasPrefix(parentRef, postParentPrefix):
		return "", false
	case parentRef == rootID:
		return "", false
	case strings.HasPrefix(parentRef, commentParentPrefix):
		return strings.TrimPrefix(parentRef, commentParentPrefix), true
	default:
		return "", false
	}
}

// createsCycle reports whether attaching child under parent would make the
// child its own ancestor.
func createsCycle(parentOf map[string]string, child, parent string) bool {
	for cur := parent; cur != ""; cur = parentOf[cur] {
		if cur == child {
			return true
		}
	}
	return false
}

// CountNodes returns the number of nodes in a forest, replies included.
func CountNodes(forest []*model.CommentNode) int {
	count := 0
	stack := append([]*model.CommentNode(nil), forest...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		count++
		stack = append(stack, n.Replies...)
	}
	return count
}
