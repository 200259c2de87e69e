// Package dataset turns a raw extracted archive into the canonical
// train/val/test class layout the trainer consumes. Normalization mutates
// the tree in place through a fixed sequence of idempotent steps, so a
// rerun over an already-normalized tree changes nothing. Splits are
// deterministic: file lists are sorted, then shuffled with a fixed seed,
// so the same archive always produces the same membership.
package dataset
