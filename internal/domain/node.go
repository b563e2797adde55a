package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Node kinds. The input tree uses a closed two-variant discriminant.
const (
	KindFolder = "folder"
	KindFile   = "file"
)

// maxTreeDepth bounds recursion so a malformed (or maliciously nested)
// tree cannot blow the stack.
const maxTreeDepth = 512

// Node is one entry of the input tree. The JSON field names match the
// crawler's output format and are treated as an external contract.
type Node struct {
	Name          string  `json:"name"`
	Kind          string  `json:"type"`
	ID            string  `json:"id,omitempty"`
	SourceLocator string  `json:"link,omitempty"`
	SizeBytes     int64   `json:"size,omitempty"`
	SizeFormatted string  `json:"sizeFormatted,omitempty"`
	ContentKind   string  `json:"mimeType,omitempty"`
	Children      []*Node `json:"children,omitempty"`
}

// IsFolder returns true if the node is a folder.
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// CountFiles returns the total number of file nodes in the subtree.
func (n *Node) CountFiles() int {
	count := 0
	if n.Kind == KindFile {
		count = 1
	}
	for _, c := range n.Children {
		count += c.CountFiles()
	}
	return count
}

// LoadTree reads and validates an input tree file. Schema violations are
// rejected here so the transfer pipeline only ever sees a well-formed tree.
func LoadTree(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree file: %w", err)
	}

	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	seen := make(map[string]struct{})
	if err := validateNode(&root, seen, 0); err != nil {
		return nil, err
	}
	return &root, nil
}

func validateNode(n *Node, seenIDs map[string]struct{}, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", ErrInvalidTree, maxTreeDepth)
	}
	if n.Name == "" {
		return fmt.Errorf("%w: node without a name at depth %d", ErrInvalidTree, depth)
	}

	switch n.Kind {
	case KindFolder:
		// Folders always carry a children sequence, possibly empty.
		if n.Children == nil {
			n.Children = []*Node{}
		}
	case KindFile:
		if len(n.Children) > 0 {
			return fmt.Errorf("%w: file %q has children", ErrInvalidTree, n.Name)
		}
	default:
		return fmt.Errorf("%w: node %q has kind %q", ErrInvalidTree, n.Name, n.Kind)
	}

	if n.ID != "" {
		if _, dup := seenIDs[n.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidTree, n.ID)
		}
		seenIDs[n.ID] = struct{}{}
	}

	for _, c := range n.Children {
		if err := validateNode(c, seenIDs, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeName makes a node name safe as a path segment on the remote and
// the local temp dir. Invalid characters become underscores, trailing dots
// and spaces are stripped.
func SanitizeName(name string) string {
	const invalid = `<>:"|?*`
	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	out = strings.TrimRight(out, ". ")
	if out == "" {
		out = "_unnamed_"
	}
	return out
}
