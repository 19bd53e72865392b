// Package core holds the ambient pieces shared by every semlake package.
//
// It carries no catalog or matching logic of its own. What lives here:
//
//   - Error taxonomy: ErrNotFound, ErrAlreadyExists, ErrInvalidState,
//     ErrComputation and ErrPersistence, plus the LakeError wrapper that tags
//     an error with the operation that produced it.
//   - Logger: a small structured logging interface backed by log/slog.
//   - Config: the YAML configuration consumed by the lake and the CLI.
//   - Metrics: Prometheus collectors for sketching, querying and mounting.
//   - Selector: the tagged source selector (ByID or ByKey) resolved at the
//     boundary instead of ambient "currently selected" state.
package core
