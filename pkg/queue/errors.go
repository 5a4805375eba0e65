package queue

import "github.com/kadirpekel/dagrunner/pkg/dagmodel"

// ErrInvalidCommand is returned by DecisionCommand.Validate. Per spec.md
// §7, invalid commands are never fatal to the engine — callers ignore them
// (Enqueue silently drops commands that fail Validate; see queue.go).
var ErrInvalidCommand = dagmodel.ErrCommandInvalid
