package branch

// Graph da acceso a los padres de un commit.
type Graph interface {
	Parents(commitID string) []string
}

// GraphFunc adapta una función a Graph.
type GraphFunc func(commitID string) []string

func (f GraphFunc) Parents(commitID string) []string { return f(commitID) }

// Ancestors retorna head y todos sus ancestros en orden BFS (head primero).
func Ancestors(g Graph, head string) []string {
	if head == "" {
		return nil
	}
	seen := map[string]struct{}{head: {}}
	order := []string{head}
	for i := 0; i < len(order); i++ {
		for _, p := range g.Parents(order[i]) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			order = append(order, p)
		}
	}
	return order
}

// IsAncestor indica si ancestor es alcanzable desde head (o igual).
func IsAncestor(g Graph, ancestor, head string) bool {
	if ancestor == "" {
		return true
	}
	for _, id := range Ancestors(g, head) {
		if id == ancestor {
			return true
		}
	}
	return false
}

// Divergence es el resultado de comparar dos historias.
type Divergence struct {
	Base  string   // ancestro común más cercano ("" si no hay)
	OnlyA []string // commits de a posteriores a base, viejo -> nuevo
	OnlyB []string // commits de b posteriores a base, viejo -> nuevo
}

// DivergedCommits recorre ambas historias hasta el ancestro común más cercano.
func DivergedCommits(g Graph, a, b *Branch) Divergence {
	ancA := Ancestors(g, a.Head)
	ancB := Ancestors(g, b.Head)

	inA := make(map[string]struct{}, len(ancA))
	for _, id := range ancA {
		inA[id] = struct{}{}
	}
	var base string
	for _, id := range ancB {
		if _, ok := inA[id]; ok {
			base = id
			break
		}
	}

	baseSet := make(map[string]struct{})
	for _, id := range Ancestors(g, base) {
		baseSet[id] = struct{}{}
	}
	return Divergence{
		Base:  base,
		OnlyA: exclusive(ancA, baseSet),
		OnlyB: exclusive(ancB, baseSet),
	}
}

func exclusive(bfs []string, exclude map[string]struct{}) []string {
	var out []string
	for i := len(bfs) - 1; i >= 0; i-- {
		if _, ok := exclude[bfs[i]]; ok {
			continue
		}
		out = append(out, bfs[i])
	}
	return out
}
