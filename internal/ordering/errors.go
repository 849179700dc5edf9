package ordering

import (
	"errors"

	"checkorder/internal/reconcile"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrMergeShapeMismatch = reconcile.ErrShapeMismatch
	ErrStageTransition    = errors.New("invalid stage transition")
)
