// Package catalog searches and downloads datasets from a Kaggle-compatible
// catalog API. The client is transport only; query variant generation and
// candidate scoring are pure helpers so ranking stays testable without a
// server.
package catalog
