package pipeline

import (
	"errors"
	"fmt"

	"github.com/blog-autopilot/internal/provider"
)

var (
	ErrEmptyTopic          = errors.New("topic is empty")
	ErrInstructionsTooLong = errors.New("instructions are too long")
	ErrDuplicateTopic      = errors.New("topic already submitted")
	ErrNotFailed           = errors.New("post is not in failed stage")
	ErrRetryCeiling        = errors.New("manual retry ceiling reached")
	ErrPublished           = errors.New("post is already published")
	ErrCancelled           = errors.New("stage call cancelled")
)

// Class is how the orchestrator treats a stage failure
type Class string

const (
	// ClassTransient failures are retried until the stage budget runs out
	ClassTransient Class = "transient"
	// ClassPermanent failures fail the post immediately
	ClassPermanent Class = "permanent"
	// ClassGate failures are validation misses; they consume the stage budget like transient ones
	ClassGate Class = "gate"
)

// GateError reports provider output that failed a stage's validation gate
type GateError struct {
	Gate   string
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s gate: %s", e.Gate, e.Reason)
}

// Classify maps a stage error to its handling class.
// Unclassified errors, timeouts included, are transient.
func Classify(err error) Class {
	var ge *GateError
	if errors.As(err, &ge) {
		return ClassGate
	}
	if k := provider.KindOf(err); k != "" && k.Permanent() {
		return ClassPermanent
	}
	return ClassTransient
}
