package change

import (
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// Modification es el par old/new de una clave modificada.
type Modification struct {
	Old any `yaml:"old" json:"old"`
	New any `yaml:"new" json:"new"`
}

// Rename describe un movimiento explícito de clave.
type Rename struct {
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Diff es el change-set entre dos snapshots.
type Diff struct {
	Added    map[string]any          `yaml:"added" json:"added"`
	Modified map[string]Modification `yaml:"modified" json:"modified"`
	Deleted  map[string]any          `yaml:"deleted" json:"deleted"`
	Renamed  []Rename                `yaml:"renamed" json:"renamed"`
}

// Compute calcula el diff entre dos árboles anidados.
//
// Los renames nunca se infieren: un delete+add del mismo valor se reporta
// como dos cambios independientes.
func Compute(oldTree, newTree map[string]any) *Diff {
	d := &Diff{
		Added:    make(map[string]any),
		Modified: make(map[string]Modification),
		Deleted:  make(map[string]any),
	}
	oldFlat := tree.Flatten(oldTree)
	newFlat := tree.Flatten(newTree)

	for k, nv := range newFlat {
		ov, ok := oldFlat[k]
		if !ok {
			d.Added[k] = tree.Clone(nv)
			continue
		}
		if !tree.Equal(ov, nv) {
			d.Modified[k] = Modification{Old: tree.Clone(ov), New: tree.Clone(nv)}
		}
	}
	for k, ov := range oldFlat {
		if _, ok := newFlat[k]; !ok {
			d.Deleted[k] = tree.Clone(ov)
		}
	}
	return d
}

// HasChanges indica si el diff tiene al menos un cambio.
func (d *Diff) HasChanges() bool { return d.Count() > 0 }

// Count retorna la cantidad total de cambios.
func (d *Diff) Count() int {
	return len(d.Added) + len(d.Modified) + len(d.Deleted) + len(d.Renamed)
}

// Changes convierte el diff en cambios aplicables.
// Orden: deletes, renames, modificaciones, altas; claves ordenadas dentro de cada grupo.
// Borrar primero evita que una hoja que pasa a ser mapa (o al revés) se pise.
func (d *Diff) Changes() []Change {
	out := make([]Change, 0, d.Count())
	for _, k := range tree.SortedKeys(d.Deleted) {
		out = append(out, NewDeleted(k, d.Deleted[k]))
	}
	for _, r := range d.Renamed {
		out = append(out, NewRenamed(r.From, r.To, r.Value))
	}
	for _, k := range tree.SortedKeys(d.Modified) {
		m := d.Modified[k]
		out = append(out, NewModified(k, m.Old, m.New))
	}
	for _, k := range tree.SortedKeys(d.Added) {
		out = append(out, NewAdded(k, d.Added[k]))
	}
	return out
}

// Apply aplica changes sobre una copia de base y la retorna.
func Apply(base map[string]any, changes []Change) map[string]any {
	out := tree.CloneMap(base)
	if out == nil {
		out = make(map[string]any)
	}
	for _, c := range changes {
		ApplyOne(out, c)
	}
	return out
}

// ApplyOne aplica un cambio in-place.
// Un rename cuyo origen ya no existe es un no-op.
func ApplyOne(snapshot map[string]any, c Change) {
	switch c.Kind {
	case Added, Modified:
		tree.Set(snapshot, c.Key, tree.Clone(c.NewValue))
	case Deleted:
		tree.Delete(snapshot, c.Key)
	case Renamed:
		v, ok := tree.Get(snapshot, c.OldKey)
		if !ok {
			return
		}
		v = tree.Clone(v)
		tree.Delete(snapshot, c.OldKey)
		tree.Set(snapshot, c.Key, v)
	}
}
