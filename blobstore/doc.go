// Package blobstore provides the storage abstraction for exported reports.
//
// Store is a flat namespace of immutable blobs. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and dry runs
//   - LocalStore: local filesystem with atomic rename on Put
//   - s3.Store: Amazon S3 with multipart uploads via the transfer manager
//   - minio.Store: MinIO and other S3-compatible storage
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Put(ctx, name, data) error
//	    Get(ctx, name) ([]byte, error)
//	    List(ctx, prefix) ([]string, error)
//	    Delete(ctx, name) error
//	}
package blobstore
