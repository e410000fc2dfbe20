// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("governor/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Credentials are resolved with the default AWS chain (environment, shared
// config, IMDS). Use NewStore to supply a preconfigured client.
//
// # Features
//
//   - Multipart uploads through the transfer manager for large blobs
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
