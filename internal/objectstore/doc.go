// Package objectstore moves dataset archives and model artifacts between
// local staging directories and S3-compatible storage. Objects are addressed
// by s3://bucket/key refs so persisted rows stay portable across endpoints;
// a missing object or bucket surfaces as a not-found error, everything else
// as transient.
package objectstore
