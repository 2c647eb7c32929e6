package plugins

import (
	"sort"
)

const (
	white = iota // unvisited
	gray         // on the current DFS path
	black        // finished
)

// ResolveOrder returns plugin names so that every plugin follows its
// dependencies. deps maps each plugin to the plugins it depends on. Ties are
// broken alphabetically so the order is stable.
func ResolveOrder(deps map[string][]string) ([]string, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range deps[name] {
			if _, ok := deps[dep]; !ok {
				return nil, &DependencyError{Plugin: name, Missing: dep}
			}
		}
	}

	color := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		path = append(path, name)

		children := append([]string(nil), deps[name]...)
		sort.Strings(children)
		for _, dep := range children {
			switch color[dep] {
			case gray:
				return &DependencyError{Plugin: name, Cycle: cycleFrom(path, dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func cycleFrom(path []string, start string) []string {
	for i, name := range path {
		if name == start {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start, start}
}
