package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
)

// Strategy define qué claves entran en una pasada.
type Strategy string

const (
	// Full enumera todas las claves de ambos lados.
	Full Strategy = "full"
	// Incremental sólo mira claves cambiadas desde el último sync.
	Incremental Strategy = "incremental"
	// Selective se limita a los namespaces pedidos.
	Selective Strategy = "selective"
)

// Direction define hacia dónde se permite escribir.
// El local es el cliente y el remoto es el servidor.
type Direction string

const (
	Pull          Direction = "pull"
	Push          Direction = "push"
	Bidirectional Direction = "bidirectional"
)

func (d Direction) writesLocal() bool  { return d == Pull || d == Bidirectional }
func (d Direction) writesRemote() bool { return d == Push || d == Bidirectional }

// Resolution es la política aplicada a una clave con valores distintos en ambos lados.
type Resolution string

const (
	ServerWins  Resolution = "server_wins"
	ClientWins  Resolution = "client_wins"
	MergeValues Resolution = "merge_values"
	Manual      Resolution = "manual"
	Abort       Resolution = "abort"
)

// State es el estado de la máquina del engine.
type State string

const (
	Idle     State = "idle"
	Syncing  State = "syncing"
	Conflict State = "conflict"
	Error    State = "error"
)

// Status es el resultado terminal de una pasada.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusConflict  Status = "conflict"
	StatusFailed    Status = "failed"
)

func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case Full, Incremental, Selective:
		return v, nil
	}
	return "", fmt.Errorf("sync strategy %q: %w", s, errs.ErrInvalidInput)
}

func ParseDirection(s string) (Direction, error) {
	switch v := Direction(strings.ToLower(strings.TrimSpace(s))); v {
	case Pull, Push, Bidirectional:
		return v, nil
	}
	return "", fmt.Errorf("sync direction %q: %w", s, errs.ErrInvalidInput)
}

func ParseResolution(s string) (Resolution, error) {
	switch v := Resolution(strings.ToLower(strings.TrimSpace(s))); v {
	case ServerWins, ClientWins, MergeValues, Manual, Abort:
		return v, nil
	}
	return "", fmt.Errorf("sync resolution %q: %w", s, errs.ErrInvalidInput)
}

// SyncConflict es una clave con valores distintos en servidor y cliente.
type SyncConflict struct {
	Key             string     `json:"key"`
	ServerValue     any        `json:"server_value"`
	ClientValue     any        `json:"client_value"`
	ServerTimestamp time.Time  `json:"server_timestamp"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	Resolution      Resolution `json:"resolution,omitempty"`
	ResolvedValue   any        `json:"resolved_value,omitempty"`
	Resolved        bool       `json:"resolved"`

	direction   Direction
	wroteLocal  bool
	wroteRemote bool
}

// finalSums retorna los checksums que quedan en cada lado tras resolver.
func (c SyncConflict) finalSums() (local, remote string) {
	local, remote = store.Checksum(c.ClientValue), store.Checksum(c.ServerValue)
	if c.wroteLocal {
		local = store.Checksum(c.ResolvedValue)
	}
	if c.wroteRemote {
		remote = store.Checksum(c.ResolvedValue)
	}
	return local, remote
}

// Result resume una pasada de sync.
type Result struct {
	ID         string         `json:"id"`
	Strategy   Strategy       `json:"strategy"`
	Direction  Direction      `json:"direction"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Examined   int            `json:"examined"`
	Pulled     int            `json:"pulled"`
	Pushed     int            `json:"pushed"`
	Conflicts  []SyncConflict `json:"conflicts,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// Duration es FinishedAt - StartedAt.
func (r *Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Unresolved cuenta los conflictos que quedaron pendientes.
func (r *Result) Unresolved() int {
	n := 0
	for _, c := range r.Conflicts {
		if !c.Resolved {
			n++
		}
	}
	return n
}
