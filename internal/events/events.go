// Package events define los eventos de cambio que el core entrega a la capa
// de distribución (push a suscriptores).
//
// Cada escritura exitosa vía el orquestador o el source manager emite
// {namespace, key, value, action, timestamp}.
package events

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Action es el tipo de cambio notificado.
type Action string

const (
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Event es un cambio sobre {namespace}.{key}.
type Event struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Value     any       `json:"value,omitempty"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// New arma un evento partiendo la clave completa en namespace + key.
func New(fullKey string, value any, action Action) Event {
	ns, key := Split(fullKey)
	return Event{Namespace: ns, Key: key, Value: value, Action: action, Timestamp: time.Now().UTC()}
}

// Split separa "{namespace}.{key}". Sin punto, el namespace queda vacío.
func Split(fullKey string) (namespace, key string) {
	i := strings.Index(fullKey, ".")
	if i < 0 {
		return "", fullKey
	}
	return fullKey[:i], fullKey[i+1:]
}

// FullKey retorna "{namespace}.{key}".
func (e Event) FullKey() string {
	if e.Namespace == "" {
		return e.Key
	}
	return e.Namespace + "." + e.Key
}

// Sink recibe eventos.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Nop descarta todo.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi reparte a varios sinks y junta los errores.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
