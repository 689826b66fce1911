// Package merge implementa el merge de tres vías entre branches de configuración:
// clasificación de conflictos, resoluciones y síntesis del commit de merge.
package merge

// Strategy es la estrategia de merge.
type Strategy string

const (
	FastForward Strategy = "fast_forward"
	MergeCommit Strategy = "merge_commit"
)

// ParseStrategy normaliza un nombre de estrategia. "" => MergeCommit.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case "", MergeCommit, "three_way":
		return MergeCommit, true
	case FastForward, "ff":
		return FastForward, true
	}
	return "", false
}

// ConflictType clasifica un conflicto.
type ConflictType string

const (
	ModifyModify ConflictType = "modify_modify"
	AddAdd       ConflictType = "add_add"
	DeleteModify ConflictType = "delete_modify"
	RenameRename ConflictType = "rename_rename"
	RenameDelete ConflictType = "rename_delete"
	RenameModify ConflictType = "rename_modify"
)

// Resolution es la forma de resolver un conflicto.
type Resolution string

const (
	TakeCurrent  Resolution = "take_current"
	TakeIncoming Resolution = "take_incoming"
	MergeValues  Resolution = "merge_values"
	Manual       Resolution = "manual"
	Abort        Resolution = "abort"
)

// ParseResolution valida un nombre de resolución.
func ParseResolution(s string) (Resolution, bool) {
	switch r := Resolution(s); r {
	case TakeCurrent, TakeIncoming, MergeValues, Manual, Abort:
		return r, true
	}
	return "", false
}

// Conflict es un conflicto detectado durante un merge de tres vías.
//
// Current es la branch destino, Incoming la branch origen. CurrentKey/IncomingKey
// indican dónde vive el valor de cada lado (difieren de Key en conflictos de rename).
type Conflict struct {
	Key             string       `json:"key"`
	Type            ConflictType `json:"conflict_type"`
	CurrentValue    any          `json:"current_value,omitempty"`
	IncomingValue   any          `json:"incoming_value,omitempty"`
	BaseValue       any          `json:"base_value,omitempty"`
	CurrentPresent  bool         `json:"current_present"`
	IncomingPresent bool         `json:"incoming_present"`
	CurrentKey      string       `json:"current_key,omitempty"`
	IncomingKey     string       `json:"incoming_key,omitempty"`
	Resolution      Resolution   `json:"resolution,omitempty"`
	ResolvedValue   any          `json:"resolved_value,omitempty"`

	resolved        bool
	resolvedKey     string
	resolvedPresent bool
}

// Resolved indica si el conflicto ya tiene resolución.
func (c *Conflict) Resolved() bool { return c.resolved }

func (c *Conflict) currentKey() string {
	if c.CurrentKey != "" {
		return c.CurrentKey
	}
	return c.Key
}

func (c *Conflict) incomingKey() string {
	if c.IncomingKey != "" {
		return c.IncomingKey
	}
	return c.Key
}

// Result es el resultado de un merge.
type Result struct {
	Success        bool           `json:"success"`
	Strategy       Strategy       `json:"strategy"`
	SourceBranch   string         `json:"source_branch"`
	TargetBranch   string         `json:"target_branch"`
	SourceHead     string         `json:"source_head"`
	TargetHead     string         `json:"target_head"`
	Conflicts      []*Conflict    `json:"conflicts"`
	MergedSnapshot map[string]any `json:"merged_snapshot"`
	MergeCommitID  string         `json:"merge_commit_id,omitempty"`
}

// Unresolved retorna los conflictos sin resolución.
func (r *Result) Unresolved() []*Conflict {
	var out []*Conflict
	for _, c := range r.Conflicts {
		if !c.resolved {
			out = append(out, c)
		}
	}
	return out
}

// Conflict busca un conflicto por clave.
func (r *Result) Conflict(key string) (*Conflict, bool) {
	for _, c := range r.Conflicts {
		if c.Key == key {
			return c, true
		}
	}
	return nil, false
}
