// Package daemon coordinates the background services behind the IPC surface:
// the workflow manager, the planner intake, and the operator maintenance
// operations. A flock on the lock file enforces single-instance execution;
// the in-flight dedup inside the workflow manager is process-local, so two
// daemons against one database would break the at-most-once dispatch
// guarantee.
package daemon
