package tree

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteText renders one line per node: name [kind] @offset +length = value.
func WriteText(w io.Writer, t *Tree) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s (%d bytes)\n", t.Grammar, t.Root.Length)
	for _, c := range t.Root.Children {
		_ = walk(c, 0, func(n *Node, depth int) error {
			bw.WriteString(strings.Repeat("  ", depth))
			fmt.Fprintf(bw, "%s [%s] @%d +%d", n.Name, n.Kind, n.Offset, n.Length)
			if s := n.Value.String(); s != "" {
				fmt.Fprintf(bw, " = %s", s)
			}
			if n.Padding {
				bw.WriteString(" (padding)")
			}
			return bw.WriteByte('\n')
		})
	}
	return bw.Flush()
}

type nodeView struct {
	Name     string     `yaml:"name"`
	Kind     string     `yaml:"kind"`
	Offset   int        `yaml:"offset"`
	Length   int        `yaml:"length"`
	Value    string     `yaml:"value,omitempty"`
	Padding  bool       `yaml:"padding,omitempty"`
	SizeRef  string     `yaml:"size_ref,omitempty"`
	Covers   []string   `yaml:"covers,omitempty"`
	Children []nodeView `yaml:"children,omitempty"`
}

type treeView struct {
	Grammar string     `yaml:"grammar"`
	Length  int        `yaml:"length"`
	Nodes   []nodeView `yaml:"nodes"`
}

func viewOf(n *Node) nodeView {
	v := nodeView{
		Name:    n.Name,
		Kind:    n.Kind,
		Offset:  n.Offset,
		Length:  n.Length,
		Value:   n.Value.String(),
		Padding: n.Padding,
		Covers:  n.Covers,
	}
	if n.SizeRef != nil {
		v.SizeRef = n.SizeRef.Path
		if n.SizeRef.Field != "" {
			v.SizeRef += "." + n.SizeRef.Field
		}
	}
	for _, c := range n.Children {
		v.Children = append(v.Children, viewOf(c))
	}
	return v
}

// WriteYAML renders the tree as a YAML document.
func WriteYAML(w io.Writer, t *Tree) error {
	view := treeView{Grammar: t.Grammar, Length: t.Root.Length}
	for _, c := range t.Root.Children {
		view.Nodes = append(view.Nodes, viewOf(c))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}
