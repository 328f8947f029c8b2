// Package blobstore provides the storage abstraction for kymflow datasets.
//
// A dataset is a flat key space (`images/<id>/...`, `tables/<name>.parquet`,
// `index/manifest.json.gz`) layered on top of a Store implementation.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with atomic writes and mmap reads
//   - MemoryStore: in-memory store for tests
//   - s3.Store: Amazon S3 with range reads and managed uploads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// # Custom Implementations
//
// Implement the Store interface to support custom backends. For cloud
// backends, range reads via Blob.ReadAt keep chunked array access cheap.
package blobstore
