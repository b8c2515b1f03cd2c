package domain

import (
	"errors"
	"fmt"
)

// ---------- Taxonomía de errores ----------
var (
	ErrConcurrency      = errors.New("concurrency conflict")
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrSerialization    = errors.New("serialization error")
	ErrDomainRule       = errors.New("domain rule violation")
	ErrPublishFailure   = errors.New("publish failure")
	ErrLeaseLost        = errors.New("outbox lease lost")
	ErrOutboxNotFound   = errors.New("outbox entry not found")
	ErrInboxInFlight    = errors.New("inbox: message still in flight")
)

// ConcurrencyError indica que la versión almacenada del stream no coincide con la esperada.
// El llamador debe recargar el agregado y reintentar el comando.
type ConcurrencyError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, actual %d", e.StreamID, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// DomainRuleViolation es un fallo de precondición de negocio. Nunca se reintenta.
type DomainRuleViolation struct {
	Rule   string
	Reason string
}

func (e *DomainRuleViolation) Error() string {
	return fmt.Sprintf("domain rule %q violated: %s", e.Rule, e.Reason)
}

func (e *DomainRuleViolation) Is(target error) bool {
	return target == ErrDomainRule
}

func NewDomainRuleViolation(rule, format string, args ...interface{}) error {
	return &DomainRuleViolation{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable envuelve un error de I/O transitorio del almacenamiento.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Serialization envuelve un error de codificación; indica deriva de esquema y es fatal.
func Serialization(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrSerialization, err)
}

// IsTransient indica si el error admite reintento con backoff en la frontera del store.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
