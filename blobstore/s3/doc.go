// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("textgo/"), s3.WithRegion("us-east-1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = db.Backup(ctx, store)
//
// Writes go through the SDK's multipart upload manager; reads use ranged GETs.
package s3
