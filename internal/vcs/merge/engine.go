package merge

import (
	"fmt"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/tree"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
)

// Input agrupa los parámetros de un merge de Source hacia Target.
type Input struct {
	Source         *branch.Branch
	Target         *branch.Branch
	SourceSnapshot map[string]any
	TargetSnapshot map[string]any
	BaseSnapshot   map[string]any // nil => vacío
	Strategy       Strategy

	// Renames explícitos (old -> new) hechos en cada lado desde la base.
	SourceRenames map[string]string
	TargetRenames map[string]string
}

// Merge ejecuta el merge. Los conflictos nunca se resuelven solos:
// el resultado queda con Success=false hasta llamar Resolve/Complete.
func Merge(in Input) (*Result, error) {
	if in.Source == nil || in.Target == nil {
		return nil, fmt.Errorf("merge: source and target are required: %w", errs.ErrInvalidInput)
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = MergeCommit
	}
	res := &Result{
		Strategy:     strategy,
		SourceBranch: in.Source.Name,
		TargetBranch: in.Target.Name,
		SourceHead:   in.Source.Head,
		TargetHead:   in.Target.Head,
	}

	switch strategy {
	case FastForward:
		if !in.Target.CanFastForwardTo(in.Source) {
			return nil, fmt.Errorf("merge: cannot fast-forward %q to %q: %w", in.Target.Name, in.Source.Name, errs.ErrDivergedBranch)
		}
		res.Success = true
		res.MergedSnapshot = tree.CloneMap(in.SourceSnapshot)
		if res.MergedSnapshot == nil {
			res.MergedSnapshot = make(map[string]any)
		}
		return res, nil
	case MergeCommit:
		threeWay(in, res)
		res.Success = len(res.Conflicts) == 0
		return res, nil
	default:
		return nil, fmt.Errorf("merge: unknown strategy %q: %w", strategy, errs.ErrInvalidInput)
	}
}

// snapshots aplanados de los tres lados
type sides struct {
	cur, inc, base map[string]any
	curTree        map[string]any
	incTree        map[string]any
	baseTree       map[string]any
}

func threeWay(in Input, res *Result) {
	s := sides{
		curTree:  orEmpty(in.TargetSnapshot),
		incTree:  orEmpty(in.SourceSnapshot),
		baseTree: orEmpty(in.BaseSnapshot),
	}
	s.cur = tree.Flatten(s.curTree)
	s.inc = tree.Flatten(s.incTree)
	s.base = tree.Flatten(s.baseTree)

	handled := renameConflicts(in, s, res)

	isHandled := func(key string) bool {
		for _, h := range handled {
			if tree.HasPrefix(key, h) {
				return true
			}
		}
		return false
	}

	// un path que es hoja en un lado y mapping en otro se compara entero
	roots := shapeRoots(s.cur, s.inc, s.base)
	underRoot := func(key string) (string, bool) {
		for _, r := range roots {
			if tree.HasPrefix(key, r) {
				return r, true
			}
		}
		return "", false
	}

	paths := make(map[string]struct{})
	for _, m := range []map[string]any{s.cur, s.inc, s.base} {
		for k := range m {
			if r, ok := underRoot(k); ok {
				k = r
			}
			paths[k] = struct{}{}
		}
	}

	merged := make(map[string]any)
	for _, key := range tree.SortedKeys(paths) {
		if isHandled(key) {
			continue
		}
		c, cOK := s.cur[key]
		i, iOK := s.inc[key]
		b, bOK := s.base[key]
		if _, ok := underRoot(key); ok {
			c, cOK = tree.Get(s.curTree, key)
			i, iOK = tree.Get(s.incTree, key)
			b, bOK = tree.Get(s.baseTree, key)
		}

		// ambos lados iguales (incluye ausentes en ambos)
		if cOK == iOK && (!cOK || tree.Equal(c, i)) {
			if cOK {
				tree.Set(merged, key, tree.Clone(c))
			}
			continue
		}

		if !bOK {
			if cOK && iOK {
				res.Conflicts = append(res.Conflicts, &Conflict{
					Key: key, Type: AddAdd,
					CurrentValue: tree.Clone(c), IncomingValue: tree.Clone(i),
					CurrentPresent: true, IncomingPresent: true,
				})
				continue
			}
			// agregado de un solo lado
			if cOK {
				tree.Set(merged, key, tree.Clone(c))
			} else {
				tree.Set(merged, key, tree.Clone(i))
			}
			continue
		}

		curChanged := !cOK || !tree.Equal(c, b)
		incChanged := !iOK || !tree.Equal(i, b)
		switch {
		case !curChanged:
			if iOK {
				tree.Set(merged, key, tree.Clone(i))
			}
		case !incChanged:
			if cOK {
				tree.Set(merged, key, tree.Clone(c))
			}
		default:
			typ := ModifyModify
			if !cOK || !iOK {
				typ = DeleteModify
			}
			res.Conflicts = append(res.Conflicts, &Conflict{
				Key: key, Type: typ,
				CurrentValue: tree.Clone(c), IncomingValue: tree.Clone(i), BaseValue: tree.Clone(b),
				CurrentPresent: cOK, IncomingPresent: iOK,
			})
		}
	}
	res.MergedSnapshot = merged
}

// shapeRoots retorna los paths más altos que son hoja en algún lado y tienen
// hojas debajo en otro.
func shapeRoots(flats ...map[string]any) []string {
	leaves := make(map[string]struct{})
	for _, m := range flats {
		for k := range m {
			leaves[k] = struct{}{}
		}
	}
	found := make(map[string]struct{})
	for k := range leaves {
		segs := tree.Split(k)
		for n := 1; n < len(segs); n++ {
			p := tree.Join(segs[:n]...)
			if _, ok := leaves[p]; ok {
				found[p] = struct{}{}
				break
			}
		}
	}
	var roots []string
	for _, r := range tree.SortedKeys(found) {
		nested := false
		for _, other := range roots {
			if tree.HasPrefix(r, other) {
				nested = true
				break
			}
		}
		if !nested {
			roots = append(roots, r)
		}
	}
	return roots
}

// renameConflicts clasifica los renames explícitos y retorna las claves que cubren.
func renameConflicts(in Input, s sides, res *Result) []string {
	olds := make(map[string]struct{})
	for k := range in.TargetRenames {
		olds[k] = struct{}{}
	}
	for k := range in.SourceRenames {
		olds[k] = struct{}{}
	}

	var handled []string
	for _, old := range tree.SortedKeys(olds) {
		tNew, tOK := in.TargetRenames[old]
		sNew, sOK := in.SourceRenames[old]
		baseVal, baseOK := tree.Get(s.baseTree, old)
		if !baseOK {
			continue
		}

		switch {
		case tOK && sOK:
			if tNew == sNew {
				continue
			}
			cv, cOK := tree.Get(s.curTree, tNew)
			iv, iOK := tree.Get(s.incTree, sNew)
			res.Conflicts = append(res.Conflicts, &Conflict{
				Key: old, Type: RenameRename,
				CurrentValue: tree.Clone(cv), IncomingValue: tree.Clone(iv), BaseValue: tree.Clone(baseVal),
				CurrentPresent: cOK, IncomingPresent: iOK,
				CurrentKey: tNew, IncomingKey: sNew,
			})
			handled = append(handled, old, tNew, sNew)

		case tOK:
			cv, cOK := tree.Get(s.curTree, tNew)
			iv, iOK := tree.Get(s.incTree, old)
			if c, ok := oneSided(old, tNew, "", cv, cOK, iv, iOK, baseVal, true); ok {
				res.Conflicts = append(res.Conflicts, c)
				handled = append(handled, old, tNew)
			}

		case sOK:
			cv, cOK := tree.Get(s.curTree, old)
			iv, iOK := tree.Get(s.incTree, sNew)
			if c, ok := oneSided(old, "", sNew, cv, cOK, iv, iOK, baseVal, false); ok {
				res.Conflicts = append(res.Conflicts, c)
				handled = append(handled, old, sNew)
			}
		}
	}
	return handled
}

// oneSided clasifica un rename hecho en un solo lado contra lo que hizo el otro lado
// con la clave original: borrarla (RenameDelete) o modificarla (RenameModify).
func oneSided(old, curKey, incKey string, cv any, cOK bool, iv any, iOK bool, base any, renamedOnCurrent bool) (*Conflict, bool) {
	otherVal, otherOK := iv, iOK
	if !renamedOnCurrent {
		otherVal, otherOK = cv, cOK
	}
	var typ ConflictType
	switch {
	case !otherOK:
		typ = RenameDelete
	case !tree.Equal(otherVal, base):
		typ = RenameModify
	default:
		return nil, false
	}
	if curKey == "" {
		curKey = old
	}
	if incKey == "" {
		incKey = old
	}
	return &Conflict{
		Key: old, Type: typ,
		CurrentValue: tree.Clone(cv), IncomingValue: tree.Clone(iv), BaseValue: tree.Clone(base),
		CurrentPresent: cOK, IncomingPresent: iOK,
		CurrentKey: curKey, IncomingKey: incKey,
	}, true
}

// Resolve registra la resolución de un conflicto.
// MergeValues con formas incompatibles deja el conflicto abierto y retorna ErrUnresolvedConflict.
func (r *Result) Resolve(key string, resolution Resolution, manualValue any) error {
	c, ok := r.Conflict(key)
	if !ok {
		return errs.NotFound("conflict", key)
	}
	switch resolution {
	case TakeCurrent:
		c.setResolved(resolution, c.currentKey(), c.CurrentValue, c.CurrentPresent)
	case TakeIncoming:
		c.setResolved(resolution, c.incomingKey(), c.IncomingValue, c.IncomingPresent)
	case MergeValues:
		if !c.CurrentPresent || !c.IncomingPresent {
			return fmt.Errorf("merge: conflict %q: one side is absent: %w", key, errs.ErrUnresolvedConflict)
		}
		v, ok := tree.MergeValues(c.CurrentValue, c.IncomingValue)
		if !ok {
			return fmt.Errorf("merge: conflict %q: values have different shapes: %w", key, errs.ErrUnresolvedConflict)
		}
		c.setResolved(resolution, c.currentKey(), v, true)
	case Manual:
		if manualValue == nil {
			return fmt.Errorf("merge: conflict %q: manual resolution needs a value: %w", key, errs.ErrInvalidInput)
		}
		c.setResolved(resolution, c.currentKey(), manualValue, true)
	case Abort:
		c.setResolved(resolution, "", nil, false)
	default:
		return fmt.Errorf("merge: unknown resolution %q: %w", resolution, errs.ErrInvalidInput)
	}
	return nil
}

func (c *Conflict) setResolved(res Resolution, key string, value any, present bool) {
	c.Resolution = res
	c.ResolvedValue = tree.Clone(value)
	c.resolved = true
	c.resolvedKey = key
	c.resolvedPresent = present
}

// Complete aplica las resoluciones y retorna el snapshot final.
// Falla con ErrAborted si alguna resolución es Abort y con
// ErrUnresolvedConflict si queda alguno abierto; en ambos casos no aplica nada.
func (r *Result) Complete() (map[string]any, error) {
	for _, c := range r.Conflicts {
		if c.resolved && c.Resolution == Abort {
			return nil, fmt.Errorf("merge %s into %s: %w", r.SourceBranch, r.TargetBranch, errs.ErrAborted)
		}
	}
	if open := r.Unresolved(); len(open) > 0 {
		return nil, fmt.Errorf("merge %s into %s: %d open: %w", r.SourceBranch, r.TargetBranch, len(open), errs.ErrUnresolvedConflict)
	}
	final := tree.CloneMap(r.MergedSnapshot)
	if final == nil {
		final = make(map[string]any)
	}
	for _, c := range r.Conflicts {
		for _, k := range []string{c.Key, c.CurrentKey, c.IncomingKey} {
			if k != "" {
				tree.Delete(final, k)
			}
		}
		if c.resolvedPresent {
			tree.Set(final, c.resolvedKey, tree.Clone(c.ResolvedValue))
		}
	}
	r.MergedSnapshot = final
	r.Success = true
	return tree.CloneMap(final), nil
}

// Synthesize construye y valida el commit de merge con padres [target_head, source_head].
// Requiere un resultado exitoso (sin conflictos o completado).
func Synthesize(r *Result, targetSnapshot map[string]any, author, message string) (*commit.Commit, error) {
	if !r.Success {
		return nil, fmt.Errorf("merge: cannot synthesize commit: %w", errs.ErrUnresolvedConflict)
	}
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s' into '%s'", r.SourceBranch, r.TargetBranch)
	}
	var parents []string
	for _, p := range []string{r.TargetHead, r.SourceHead} {
		if p != "" {
			parents = append(parents, p)
		}
	}
	c := commit.New(message, author, parents...)
	for _, ch := range change.Compute(targetSnapshot, r.MergedSnapshot).Changes() {
		if err := c.AddChange(ch); err != nil {
			return nil, err
		}
	}
	if err := c.Seal(targetSnapshot); err != nil {
		return nil, err
	}
	r.MergeCommitID = c.ID
	return c, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
