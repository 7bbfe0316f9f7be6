// Package decision implements the branching rubric of questions that
// turns filtered ordinance text into typed values. Trees are explicit
// data: nodes with declared categorical outcomes and edges, validated
// once at load time so traversal can never loop or fall off an
// undeclared branch at runtime.
package decision

import (
	"encoding/json"
	"fmt"
	"os"
)

// NodeID identifies one question node within a tree
type NodeID string

// TerminalAction produces a typed value when a branch ends. When
// ValuePrompt is set a follow-up extraction call supplies the value;
// otherwise Value is used as-is. NotFound terminals record an
// explicit "not found" rather than a guessed default.
type TerminalAction struct {
	Value       string `json:"value,omitempty"`
	ValuePrompt string `json:"value_prompt,omitempty"`
	NotFound    bool   `json:"not_found,omitempty"`
}

// Branch is one declared outcome edge: either a reference to the
// next node or a terminal action, never both.
type Branch struct {
	Next     NodeID          `json:"next,omitempty"`
	Terminal *TerminalAction `json:"terminal,omitempty"`
}

// Node is one question in the rubric. Prompt is the system message
// for the question; the document's accumulated context is supplied
// as the user message. Outcomes declares every categorical answer
// the node accepts.
type Node struct {
	ID       NodeID            `json:"id"`
	Prompt   string            `json:"prompt"`
	Outcomes map[string]Branch `json:"outcomes"`
}

// Tree is a validated decision tree. Construct with NewTree or
// LoadFile; a Tree that exists has passed the structural checks.
type Tree struct {
	Root     NodeID
	Nodes    map[NodeID]*Node
	maxDepth int
}

// TreeError reports a malformed tree at load time
type TreeError struct {
	Node   NodeID
	Reason string
}

func (e TreeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("malformed decision tree at node %q: %s", e.Node, e.Reason)
	}
	return "malformed decision tree: " + e.Reason
}

// NewTree validates the node set and returns the tree. Checks: the
// root exists, every branch resolves to a known node or a terminal,
// every node is reachable from the root, and no path cycles.
func NewTree(root NodeID, nodes []*Node) (*Tree, error) {
	if len(nodes) == 0 {
		return nil, TreeError{Reason: "tree has no nodes"}
	}

	index := make(map[NodeID]*Node, len(nodes))
	for _, node := range nodes {
		if node.ID == "" {
			return nil, TreeError{Reason: "node with empty id"}
		}
		if _, dup := index[node.ID]; dup {
			return nil, TreeError{Node: node.ID, Reason: "duplicate node id"}
		}
		if node.Prompt == "" {
			return nil, TreeError{Node: node.ID, Reason: "node has no prompt"}
		}
		if len(node.Outcomes) == 0 {
			return nil, TreeError{Node: node.ID, Reason: "node declares no outcomes"}
		}
		index[node.ID] = node
	}

	if _, ok := index[root]; !ok {
		return nil, TreeError{Node: root, Reason: "root node not found"}
	}

	for _, node := range index {
		for outcome, branch := range node.Outcomes {
			hasNext := branch.Next != ""
			hasTerminal := branch.Terminal != nil
			if hasNext == hasTerminal {
				return nil, TreeError{
					Node:   node.ID,
					Reason: fmt.Sprintf("outcome %q must have exactly one of next or terminal", outcome),
				}
			}
			if hasNext {
				if _, ok := index[branch.Next]; !ok {
					return nil, TreeError{
						Node:   node.ID,
						Reason: fmt.Sprintf("outcome %q references unknown node %q", outcome, branch.Next),
					}
				}
			}
		}
	}

	tree := &Tree{Root: root, Nodes: index}

	depth, err := tree.checkAcyclic()
	if err != nil {
		return nil, err
	}
	tree.maxDepth = depth

	if err := tree.checkReachable(); err != nil {
		return nil, err
	}

	return tree, nil
}

// MaxDepth is the longest root-to-terminal path. Traversal depth is
// bounded by it.
func (t *Tree) MaxDepth() int {
	return t.maxDepth
}

// checkAcyclic runs a depth-first walk with three-color marking and
// returns the longest path length, or an error naming a node on a
// cycle.
func (t *Tree) checkAcyclic() (int, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(t.Nodes))
	depth := make(map[NodeID]int, len(t.Nodes))

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		color[id] = gray
		longest := 0
		for _, branch := range t.Nodes[id].Outcomes {
			if branch.Next == "" {
				continue
			}
			switch color[branch.Next] {
			case gray:
				return TreeError{Node: branch.Next, Reason: "cycle detected"}
			case white:
				if err := visit(branch.Next); err != nil {
					return err
				}
			}
			if d := depth[branch.Next]; d > longest {
				longest = d
			}
		}
		color[id] = black
		depth[id] = longest + 1
		return nil
	}

	if err := visit(t.Root); err != nil {
		return 0, err
	}
	// Nodes unreachable from the root are caught by checkReachable;
	// visit them here only to keep the cycle check total.
	for id := range t.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return 0, err
			}
		}
	}

	return depth[t.Root], nil
}

// checkReachable verifies every node is on some path from the root
func (t *Tree) checkReachable() error {
	seen := map[NodeID]bool{t.Root: true}
	frontier := []NodeID{t.Root}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, branch := range t.Nodes[id].Outcomes {
			if branch.Next != "" && !seen[branch.Next] {
				seen[branch.Next] = true
				frontier = append(frontier, branch.Next)
			}
		}
	}
	for id := range t.Nodes {
		if !seen[id] {
			return TreeError{Node: id, Reason: "node is unreachable from the root"}
		}
	}
	return nil
}

// treeFile is the on-disk representation of a tree
type treeFile struct {
	Root  NodeID  `json:"root"`
	Nodes []*Node `json:"nodes"`
}

// LoadFile reads and validates a decision tree from a JSON file.
// Malformed trees fail here, before any task runs.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read decision tree %s: %w", path, err)
	}

	var file treeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse decision tree %s: %w", path, err)
	}

	return NewTree(file.Root, file.Nodes)
}
