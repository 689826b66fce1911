// Package errs define la taxonomía de errores del core de configuración versionada.
//
// Los errores se envuelven con fmt.Errorf("...: %w", err) y se comparan con errors.Is.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indica un commit malformado o vacío.
	ErrValidation = errors.New("validation failed")

	// ErrDirtyTree indica cambios sin commitear al hacer checkout o merge.
	ErrDirtyTree = errors.New("working tree has uncommitted changes")

	// ErrDivergedBranch indica que un fast-forward es imposible.
	ErrDivergedBranch = errors.New("branches have diverged")

	// ErrUnresolvedConflict indica que quedan conflictos sin resolver.
	ErrUnresolvedConflict = errors.New("unresolved conflicts")

	// ErrAborted indica que se eligió ABORT explícitamente.
	ErrAborted = errors.New("operation aborted")

	// ErrRepository indica que falló un repositorio de respaldo.
	ErrRepository = errors.New("repository error")

	// ErrNotFound indica branch/tag/commit/key inexistente.
	ErrNotFound = errors.New("not found")

	// ErrSyncInProgress indica que ya hay un sync corriendo en la instancia.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrReadOnly indica escritura sobre un repositorio de sólo lectura.
	ErrReadOnly = errors.New("repository is read-only")

	// ErrProtectedBranch indica una operación prohibida por las reglas de protección.
	ErrProtectedBranch = errors.New("branch is protected")

	// ErrAlreadyExists indica un nombre de branch/tag duplicado.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNothingToCommit indica que no hay cambios staged.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrNoBranch indica que no hay branch actual.
	ErrNoBranch = errors.New("no current branch")

	// ErrMergeInProgress indica que hay un merge pendiente de completar.
	ErrMergeInProgress = errors.New("merge in progress")

	// ErrNotLeader indica que la escritura requiere ser líder del cluster.
	ErrNotLeader = errors.New("operation requires cluster leader")

	// ErrInvalidInput indica parámetros inválidos.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError acumula los problemas encontrados al validar un commit.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RepositoryError envuelve el fallo de un repositorio con su nombre.
type RepositoryError struct {
	Repo string
	Op   string
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %q: %s: %v", e.Repo, e.Op, e.Err)
}

// Unwrap expone tanto ErrRepository como la causa original.
func (e *RepositoryError) Unwrap() []error { return []error{ErrRepository, e.Err} }

// WrapRepo arma un RepositoryError. Retorna nil si err es nil.
func WrapRepo(repo, op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Repo: repo, Op: op, Err: err}
}

// NotFound arma un error de recurso inexistente.
func NotFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation verifica si el error es ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRepository verifica si el error es ErrRepository.
func IsRepository(err error) bool { return errors.Is(err, ErrRepository) }

// IsAborted verifica si el error es ErrAborted.
func IsAborted(err error) bool { return errors.Is(err, ErrAborted) }
