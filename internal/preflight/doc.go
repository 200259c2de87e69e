// Package preflight provides readiness checks for the external services a
// run depends on before a stage claims it.
//
// These checks run in two contexts:
//   - The workflow manager calls RunAll before dispatching a run so a dead
//     catalog or object store halts the lane instead of burning a training
//     attempt.
//   - Stage health checks reuse individual check functions (CheckCatalog,
//     CheckObjectStore) to report readiness over IPC.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
