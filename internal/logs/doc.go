// Package logs provides offset-based log tailing shared by the CLI and the
// IPC surface.
//
// A negative offset means "the last N lines"; a non-negative offset reads
// forward from that byte position and returns the next offset, so repeated
// calls stream a growing file without rereading it. Follow mode polls until
// a new line arrives, the wait expires, or the context is canceled.
package logs
