// Package export periodically writes governor reports to durable storage.
//
// Reports are JSON encoded, optionally compressed with lz4 or zstd, and
// written to a Sink under "reports/<timestamp>-<uuid>.json[.lz4|.zst]".
// Any blobstore.Store can serve as a Sink and additionally supports
// retention of the newest N reports. RedisSink relies on key expiry instead.
//
//	exp := export.New(gov, store, func(o *export.Options) {
//		o.Codec = export.CodecZSTD
//		o.Keep = 100
//	})
//	go exp.Run(ctx, time.Minute)
//
// Exported reports are write-only: the governor never reads them back.
package export
