package spooler

import "strings"

const (
	NamespaceNFe  = "http://www.portalfiscal.inf.br/nfe"
	NamespaceCTe  = "http://www.portalfiscal.inf.br/cte"
	NamespaceMDFe = "http://www.portalfiscal.inf.br/mdfe"
)

// DefaultNamespaces is the lookup order used by NewFieldLocator: unqualified
// first, then each fiscal portal namespace.
var DefaultNamespaces = []string{"", NamespaceNFe, NamespaceCTe, NamespaceMDFe}

// FieldLocator finds elements by slash-separated local-name paths. The first
// segment matches at any depth below the starting node, the remaining ones
// are direct children. Each namespace candidate is tried in order against
// the whole path and the first one that matches wins.
type FieldLocator struct {
	spaces []string
}

func NewFieldLocator(spaces ...string) *FieldLocator {
	if len(spaces) == 0 {
		spaces = DefaultNamespaces
	}
	return &FieldLocator{spaces: spaces}
}

func (l *FieldLocator) Find(from *Node, path string) *Node {
	if from == nil {
		return nil
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil
	}
	for _, ns := range l.spaces {
		var found *Node
		walkDescendants(from, func(n *Node) bool {
			if !matchName(n, segs[0], ns) {
				return true
			}
			if m := descend(n, segs[1:], ns); m != nil {
				found = m
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (l *FieldLocator) FindAll(from *Node, path string) []*Node {
	if from == nil {
		return nil
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil
	}
	for _, ns := range l.spaces {
		var out []*Node
		walkDescendants(from, func(n *Node) bool {
			if matchName(n, segs[0], ns) {
				out = append(out, descendAll(n, segs[1:], ns)...)
			}
			return true
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Text returns the trimmed text of the first match, or "".
func (l *FieldLocator) Text(from *Node, path string) string {
	if n := l.Find(from, path); n != nil {
		return n.Text
	}
	return ""
}

// FirstText tries each path in order and returns the first non-empty text.
func (l *FieldLocator) FirstText(from *Node, paths ...string) string {
	for _, p := range paths {
		if v := l.Text(from, p); v != "" {
			return v
		}
	}
	return ""
}

func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func matchName(n *Node, local, ns string) bool {
	return n.Name.Local == local && n.Name.Space == ns
}

// walkDescendants visits every node below from in document order until fn
// returns false.
func walkDescendants(from *Node, fn func(*Node) bool) bool {
	for _, c := range from.Children {
		if !fn(c) {
			return false
		}
		if !walkDescendants(c, fn) {
			return false
		}
	}
	return true
}

func descend(n *Node, segs []string, ns string) *Node {
	if len(segs) == 0 {
		return n
	}
	for _, c := range n.Children {
		if matchName(c, segs[0], ns) {
			if m := descend(c, segs[1:], ns); m != nil {
				return m
			}
		}
	}
	return nil
}

func descendAll(n *Node, segs []string, ns string) []*Node {
	if len(segs) == 0 {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		if matchName(c, segs[0], ns) {
			out = append(out, descendAll(c, segs[1:], ns)...)
		}
	}
	return out
}
