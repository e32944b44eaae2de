package lifecycle

import (
	"fmt"
	"strings"

	"github.com/imamik/lxc-compose/internal/config"
)

// Order returns names sorted so every container follows the containers it
// depends on. Ties keep document order. Dependencies outside names are
// ignored here; the caller decides whether they must already exist.
func Order(names []string, deps map[string][]string) ([]string, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(names))
	out := make([]string, 0, len(names))
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		switch mark[n] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), n)
			return &config.ConfigError{
				Kind:      config.CircularDependency,
				Container: n,
				Field:     "depends_on",
				Detail:    strings.Join(cycle, " -> "),
			}
		}
		mark[n] = visiting
		path = append(path, n)
		for _, d := range deps[n] {
			if _, ok := index[d]; !ok {
				continue
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		mark[n] = done
		out = append(out, n)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Reverse returns names in reverse order.
func Reverse(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[len(names)-1-i] = n
	}
	return out
}

// documentOrder sorts the containers of doc by dependency.
func documentOrder(doc *config.Document) ([]string, error) {
	deps := make(map[string][]string, len(doc.Containers))
	for _, c := range doc.Containers {
		deps[c.Name] = c.DependsOn
	}
	return Order(doc.Names(), deps)
}

// Select narrows doc to names. With withDeps, in-document dependencies of
// the selected containers are included transitively. Unknown names are an
// error.
func Select(doc *config.Document, names []string, withDeps bool) (*config.Document, error) {
	if len(names) == 0 {
		return doc, nil
	}
	want := make(map[string]bool, len(names))
	var queue []string
	for _, n := range names {
		if _, ok := doc.Container(n); !ok {
			return nil, fmt.Errorf("container %q is not defined in %s", n, doc.Path)
		}
		if !want[n] {
			want[n] = true
			queue = append(queue, n)
		}
	}
	for withDeps && len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		spec, _ := doc.Container(n)
		for _, d := range spec.DependsOn {
			if _, ok := doc.Container(d); ok && !want[d] {
				want[d] = true
				queue = append(queue, d)
			}
		}
	}

	sub := *doc
	sub.Containers = nil
	for _, c := range doc.Containers {
		if want[c.Name] {
			sub.Containers = append(sub.Containers, c)
		}
	}
	return &sub, nil
}
