package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - VERSIONADO
// =================================================================================

// Branch crea un campo para el nombre de branch.
func Branch(v string) zap.Field {
	return zap.String("branch", v)
}

// CommitID crea un campo para el ID de commit.
func CommitID(v string) zap.Field {
	return zap.String("commit_id", v)
}

// Tag crea un campo para el nombre de tag.
func Tag(v string) zap.Field {
	return zap.String("tag", v)
}

// Author crea un campo para el autor de un commit.
func Author(v string) zap.Field {
	return zap.String("author", v)
}

// Strategy crea un campo para la estrategia de merge/sync.
func Strategy(v string) zap.Field {
	return zap.String("strategy", v)
}

// Conflicts crea un campo para la cantidad de conflictos.
func Conflicts(v int) zap.Field {
	return zap.Int("conflicts", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - REPOSITORIOS / SYNC
// =================================================================================

// Repo crea un campo para el nombre de repositorio.
func Repo(v string) zap.Field {
	return zap.String("repo", v)
}

// Driver crea un campo para el driver de un repositorio.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// SyncID crea un campo para el ID de una corrida de sync.
func SyncID(v string) zap.Field {
	return zap.String("sync_id", v)
}

// Direction crea un campo para la dirección de un sync.
func Direction(v string) zap.Field {
	return zap.String("direction", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}
