package spooler

import (
	"fmt"
	"strconv"
)

type FlattenOptions struct {
	MaxDepth int
	MaxKeys  int
}

// FlattenXML maps every leaf path below root to its text. Path segments are
// local names joined by "."; repeated siblings get a "[i]" index and
// attributes are keyed as "path@name". Namespace declarations are skipped.
func FlattenXML(root *Node, opts FlattenOptions) map[string]string {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 16
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 5000
	}

	out := make(map[string]string)
	if root == nil {
		return out
	}
	flattenInto(out, root.Name.Local, root, 0, opts)
	return out
}

func flattenInto(out map[string]string, prefix string, n *Node, depth int, opts FlattenOptions) {
	if len(out) >= opts.MaxKeys {
		return
	}
	if depth > opts.MaxDepth {
		out[prefix] = fmt.Sprintf("<max_depth:%d>", opts.MaxDepth)
		return
	}

	for _, a := range n.Attr {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			continue
		}
		if len(out) >= opts.MaxKeys {
			return
		}
		out[prefix+"@"+a.Name.Local] = a.Value
	}

	if len(n.Children) == 0 {
		if n.Text != "" || len(n.Attr) == 0 {
			out[prefix] = n.Text
		}
		return
	}

	counts := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		counts[c.Name.Local]++
	}
	seen := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		key := prefix + "." + c.Name.Local
		if counts[c.Name.Local] > 1 {
			key += "[" + strconv.Itoa(seen[c.Name.Local]) + "]"
			seen[c.Name.Local]++
		}
		flattenInto(out, key, c, depth+1, opts)
		if len(out) >= opts.MaxKeys {
			return
		}
	}
}
