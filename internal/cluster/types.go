// Package cluster provee la infraestructura Raft del backend replicado:
// el Node (stores, transporte, bootstrap, membership) y la FSM sobre un
// árbol de configuración.
package cluster

import "encoding/json"

// MutationType define el catálogo de operaciones replicadas.
type MutationType string

const (
	MutationSet    MutationType = "set"
	MutationDelete MutationType = "delete"
)

// Mutation representa una operación a replicar por Raft.
// Value es el JSON crudo del valor (vacío en delete).
type Mutation struct {
	Type   MutationType    `json:"type"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
	TsUnix int64           `json:"tsUnix"`
}
