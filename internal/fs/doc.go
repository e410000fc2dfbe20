// Package fs abstracts the file system for the local blob store so that
// tests can inject I/O failures.
//
// Production code uses fs.Default ([LocalFS]). Tests wrap it in a
// [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp-", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
//
// Operations take no context: local file operations are not interruptible
// at the syscall level. Slow remote storage goes through blobstore.Store.
package fs
