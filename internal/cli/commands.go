package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/textgo"
	"github.com/hupe1980/textgo/blobstore"
	miniostore "github.com/hupe1980/textgo/blobstore/minio"
	s3store "github.com/hupe1980/textgo/blobstore/s3"
	"github.com/hupe1980/textgo/model"
)

var (
	errIDRequired    = errors.New("document id required")
	errQueryRequired = errors.New("query required")
	errTargetMissing = errors.New("one of --to, --s3-bucket or --minio-endpoint is required")
)

func parseID(args []string) (model.DocID, error) {
	if len(args) == 0 {
		return 0, errIDRequired
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id %q: %w", args[0], err)
	}
	return model.DocID(id), nil
}

// splitField splits name=value.
func splitField(kv string) (string, string, error) {
	name, value, ok := strings.Cut(kv, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("field %q: expected name=value", kv)
	}
	return name, value, nil
}

// AddCmd returns the add command.
func AddCmd() *Command {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	text := fs.StringArrayP("field", "f", nil, "text field name=value (repeatable)")
	nums := fs.StringArray("number", nil, "numeric field name=value (repeatable)")
	bools := fs.StringArray("bool", nil, "boolean field name=value (repeatable)")
	dates := fs.StringArray("date", nil, "RFC 3339 date field name=value (repeatable)")

	return &Command{
		Flags: fs,
		Usage: "add <id> [body] [flags]",
		Short: "Insert or replace a document",
		Exec: func(ctx context.Context, db *textgo.DB, o *IO, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}
			b := model.NewDocument(id)
			if len(args) > 1 {
				b.Text("body", strings.Join(args[1:], " "))
			}
			for _, kv := range *text {
				name, v, err := splitField(kv)
				if err != nil {
					return err
				}
				b.Text(name, v)
			}
			for _, kv := range *nums {
				name, v, err := splitField(kv)
				if err != nil {
					return err
				}
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
				b.Number(name, n)
			}
			for _, kv := range *bools {
				name, v, err := splitField(kv)
				if err != nil {
					return err
				}
				bv, err := strconv.ParseBool(v)
				if err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
				b.Bool(name, bv)
			}
			for _, kv := range *dates {
				name, v, err := splitField(kv)
				if err != nil {
					return err
				}
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
				b.Date(name, t)
			}

			if err := db.Insert(ctx, b.Build()); err != nil {
				return err
			}
			if err := db.Commit(); err != nil {
				return err
			}
			o.Println("added", id)
			return nil
		},
	}
}

// DeleteCmd returns the delete command.
func DeleteCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <id>",
		Short: "Delete a document",
		Exec: func(ctx context.Context, db *textgo.DB, o *IO, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}
			if err := db.Delete(ctx, id); err != nil {
				return err
			}
			if err := db.Commit(); err != nil {
				return err
			}
			o.Println("deleted", id)
			return nil
		},
	}
}

// GetCmd returns the get command.
func GetCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <id>",
		Short: "Print a stored document",
		Exec: func(_ context.Context, db *textgo.DB, o *IO, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}
			doc, err := db.Get(id)
			if err != nil {
				return fmt.Errorf("document %d: %w", id, err)
			}
			o.Printf("id: %d\n", doc.ID)
			for _, f := range doc.Fields {
				o.Printf("%s: %s\n", f.Name, f.Value)
			}
			return nil
		},
	}
}

// SearchCmd returns the search command.
func SearchCmd() *Command {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.IntP("limit", "n", 10, "maximum number of hits, 0 for all")
	show := fs.StringP("show", "s", "", "print this stored field of every hit")

	return &Command{
		Flags: fs,
		Usage: "search <query> [flags]",
		Short: "Run a query and print ranked hits",
		Exec: func(ctx context.Context, db *textgo.DB, o *IO, args []string) error {
			if len(args) == 0 {
				return errQueryRequired
			}
			hits, err := db.SearchString(ctx, strings.Join(args, " "), textgo.SearchOptions{Limit: *limit})
			if err != nil {
				return err
			}
			for _, h := range hits {
				if *show == "" {
					o.Printf("%d\t%.4f\n", h.DocID, h.Score)
					continue
				}
				var val string
				if doc, err := db.Get(h.DocID); err == nil {
					if v, ok := doc.Get(*show); ok {
						val = v.String()
					}
				}
				o.Printf("%d\t%.4f\t%s\n", h.DocID, h.Score, val)
			}
			return nil
		},
	}
}

// StatsCmd returns the stats command.
func StatsCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Print index statistics as YAML",
		Exec: func(_ context.Context, db *textgo.DB, o *IO, _ []string) error {
			st, err := db.Stats()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(st)
			if err != nil {
				return err
			}
			o.Printf("%s", out)
			return nil
		},
	}
}

// HealthCmd returns the health command.
func HealthCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("health", flag.ContinueOnError),
		Usage: "health",
		Short: "Run health checks; exits non-zero unless healthy",
		Exec: func(_ context.Context, db *textgo.DB, o *IO, _ []string) error {
			report := db.HealthCheck()
			for _, c := range report.Checks {
				o.Printf("%-12s %-10s %s\n", c.Name, c.Status, c.Message)
			}
			o.Println("overall:", report.Status)
			if report.Status != textgo.Healthy {
				return fmt.Errorf("index is %s", report.Status)
			}
			return nil
		},
	}
}

// CompactCmd returns the compact command.
func CompactCmd() *Command {
	fs := flag.NewFlagSet("compact", flag.ContinueOnError)
	force := fs.Bool("force", false, "merge every segment into one")

	return &Command{
		Flags: fs,
		Usage: "compact [--force]",
		Short: "Merge segments",
		Exec: func(ctx context.Context, db *textgo.DB, o *IO, _ []string) error {
			if err := db.Flush(ctx); err != nil {
				return err
			}
			var err error
			if *force {
				err = db.ForceMerge(ctx)
			} else {
				err = db.Compact(ctx)
			}
			if err != nil {
				return err
			}
			st, err := db.Stats()
			if err != nil {
				return err
			}
			o.Printf("%d segments\n", st.SegmentCount)
			return nil
		},
	}
}

type backupFlags struct {
	to             string
	s3Bucket       string
	s3Prefix       string
	s3Region       string
	s3Endpoint     string
	minioEndpoint  string
	minioBucket    string
	minioPrefix    string
	minioAccessKey string
	minioSecretKey string
	minioSecure    bool
}

func (f *backupFlags) store(ctx context.Context) (blobstore.BlobStore, error) {
	switch {
	case f.to != "":
		if err := os.MkdirAll(f.to, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(f.to), nil
	case f.s3Bucket != "":
		return s3store.New(ctx, f.s3Bucket,
			s3store.WithPrefix(f.s3Prefix),
			s3store.WithRegion(f.s3Region),
			s3store.WithEndpoint(f.s3Endpoint),
		)
	case f.minioEndpoint != "":
		access := cmp.Or(f.minioAccessKey, os.Getenv("MINIO_ACCESS_KEY"))
		secret := cmp.Or(f.minioSecretKey, os.Getenv("MINIO_SECRET_KEY"))
		client, err := minio.New(f.minioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(access, secret, ""),
			Secure: f.minioSecure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		store := miniostore.NewStore(client, f.minioBucket, f.minioPrefix)
		if err := store.EnsureBucket(ctx, f.s3Region); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errTargetMissing
}

// BackupCmd returns the backup command.
func BackupCmd() *Command {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	var f backupFlags
	fs.StringVar(&f.to, "to", "", "local target directory")
	fs.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 target bucket")
	fs.StringVar(&f.s3Prefix, "s3-prefix", "", "S3 key prefix")
	fs.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	fs.StringVar(&f.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint")
	fs.StringVar(&f.minioEndpoint, "minio-endpoint", "", "MinIO endpoint host:port")
	fs.StringVar(&f.minioBucket, "minio-bucket", "textgo", "MinIO target bucket")
	fs.StringVar(&f.minioPrefix, "minio-prefix", "", "MinIO key prefix")
	fs.StringVar(&f.minioAccessKey, "minio-access-key", "", "MinIO access key (default $MINIO_ACCESS_KEY)")
	fs.StringVar(&f.minioSecretKey, "minio-secret-key", "", "MinIO secret key (default $MINIO_SECRET_KEY)")
	fs.BoolVar(&f.minioSecure, "minio-secure", true, "use TLS for MinIO")

	return &Command{
		Flags: fs,
		Usage: "backup --to <dir> | --s3-bucket <b> | --minio-endpoint <host>",
		Short: "Copy a consistent image of the index to a blob store",
		Exec: func(ctx context.Context, db *textgo.DB, o *IO, _ []string) error {
			dst, err := f.store(ctx)
			if err != nil {
				return err
			}
			info, err := db.Backup(ctx, dst)
			if err != nil {
				return err
			}
			o.Printf("backed up %d segments, %d files, %d bytes in %s\n",
				info.Segments, info.Files, info.Bytes, info.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
