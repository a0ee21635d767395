package forum

import (
	"sort"

	"github.com/google/uuid"

	"portfolio/internal/database"
)

// CommentNode 是评论树中的一个节点，Depth 为封顶后的展示深度。
type CommentNode struct {
	Comment  database.Comment `json:"comment"`
	TextHTML string           `json:"text_html,omitempty"`
	Depth    int              `json:"depth"`
	Replies  []*CommentNode   `json:"replies"`
}

// BuildCommentTree 把同一帖子的扁平评论列表组装成树。
// 父评论不在集合内的评论按顶层处理；maxDepth <= 0 表示不封顶。
func BuildCommentTree(comments []database.Comment, maxDepth int) []*CommentNode {
	sorted := make([]database.Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	present := make(map[uuid.UUID]struct{}, len(sorted))
	for _, c := range sorted {
		present[c.ID] = struct{}{}
	}

	children := make(map[uuid.UUID][]int)
	roots := make([]int, 0)
	for i, c := range sorted {
		if c.ParentID == nil || *c.ParentID == c.ID {
			roots = append(roots, i)
			continue
		}
		if _, ok := present[*c.ParentID]; !ok {
			roots = append(roots, i)
			continue
		}
		children[*c.ParentID] = append(children[*c.ParentID], i)
	}

	visited := make(map[uuid.UUID]bool, len(sorted))
	var build func(idx, depth int) *CommentNode
	build = func(idx, depth int) *CommentNode {
		c := sorted[idx]
		visited[c.ID] = true
		shown := depth
		if maxDepth > 0 && shown > maxDepth {
			shown = maxDepth
		}
		node := &CommentNode{Comment: c, Depth: shown, Replies: []*CommentNode{}}
		for _, child := range children[c.ID] {
			if visited[sorted[child].ID] {
				continue
			}
			node.Replies = append(node.Replies, build(child, depth+1))
		}
		return node
	}

	tree := make([]*CommentNode, 0, len(roots))
	for _, idx := range roots {
		tree = append(tree, build(idx, 0))
	}
	return tree
}

// CountNodes 返回树中节点总数。
func CountNodes(nodes []*CommentNode) int {
	total := 0
	for _, n := range nodes {
		total += 1 + CountNodes(n.Replies)
	}
	return total
}
