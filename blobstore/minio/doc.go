// Package minio stores backups in a MinIO or other S3-compatible bucket.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds: credentials.NewStaticV4(access, secret, ""),
//	})
//	if err != nil {
//		return err
//	}
//	store := miniostore.NewStore(client, "backups", "textgo")
//	if err := store.EnsureBucket(ctx, ""); err != nil {
//		return err
//	}
//	info, err := db.Backup(ctx, store)
package minio
