// Package api defines wire-format types and converters for the IPC layer.
// It translates internal queue models into transport-friendly DTOs that the
// CLI can render without coupling to internal types.
//
// DTOs use camelCase JSON tags. Internal enums (queue.Phase, queue.Lane) are
// exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
// Plans and metrics are passed through as json.RawMessage to avoid
// double-encoding.
package api
