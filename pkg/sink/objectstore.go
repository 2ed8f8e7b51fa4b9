package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/gatehits/pkg/errors"
	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/logger"
)

// Uploader copies a local file to an object store.
type Uploader interface {
	Upload(ctx context.Context, localPath string, dest Destination, contentType string) error
}

// ObjectStoreSink stages the consolidated output locally through a FileSink
// and uploads it to s3:// or gs:// at Finalize.
type ObjectStoreSink struct {
	local    *FileSink
	dest     Destination
	staged   string
	uploader Uploader
	logger   *zap.Logger
}

// NewObjectStoreSink stages under opts.SpillDir, or the system temp directory
// when it is empty. opts.Destination is ignored.
func NewObjectStoreSink(schema *hits.Schema, dest Destination, opts FileOptions, up Uploader) *ObjectStoreSink {
	if opts.SpillDir == "" {
		opts.SpillDir = filepath.Join(os.TempDir(), "gatehits-"+opts.Collection+"-segments")
	}
	// Open moves the staged file into the run directory; until then the
	// spill root stands in so the writability probe covers it
	opts.Destination = filepath.Join(opts.SpillDir, stagedName(opts.Format))

	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	return &ObjectStoreSink{
		local:    NewFileSink(schema, opts),
		dest:     dest,
		uploader: up,
		logger:   logger.Component(log, "object_store_sink").With(zap.String("destination", dest.String())),
	}
}

// Open validates the destination and opens the local staging sink.
func (s *ObjectStoreSink) Open(ctx context.Context) error {
	if !s.dest.Remote() {
		return configError(fmt.Sprintf("%s is not an object store destination", s.dest))
	}
	if s.local.opts.Manifest {
		return configError("manifest merge mode needs a local output_destination")
	}
	if s.uploader == nil {
		return configError("no uploader for " + s.dest.Scheme)
	}
	if err := s.local.Open(ctx); err != nil {
		return err
	}
	s.staged = filepath.Join(s.local.SpillDir(), stagedName(s.local.opts.Format))
	s.local.opts.Destination = s.staged
	return nil
}

func stagedName(format columnar.Format) string {
	if format == "" {
		format = columnar.Arrow
	}
	return "consolidated" + format.Extension()
}

// Write stages a segment locally.
func (s *ObjectStoreSink) Write(ctx context.Context, rec arrow.Record, worker hits.WorkerID, index int) error {
	return s.local.Write(ctx, rec, worker, index)
}

// Finalize consolidates locally, uploads and removes the staged file.
func (s *ObjectStoreSink) Finalize(ctx context.Context, order []hits.WorkerID) (*ConsolidatedOutput, error) {
	out, err := s.local.Finalize(ctx, order)
	if err != nil {
		return nil, err
	}

	contentType := "application/vnd.apache.arrow.file"
	if out.Format == string(columnar.Parquet) {
		contentType = "application/vnd.apache.parquet"
	}
	if err := s.uploader.Upload(ctx, s.staged, s.dest, contentType); err != nil {
		// the staged file stays behind so the output can be uploaded by hand
		return nil, sinkError(err, errors.StageMerge, "failed to upload consolidated output").
			WithDetail("staged", s.staged)
	}
	if err := os.Remove(s.staged); err != nil {
		s.logger.Warn("failed to remove staged output", zap.String("path", s.staged), zap.Error(err))
	}
	if !s.local.opts.KeepSegments {
		s.local.removeRunDir()
	}

	out.Destination = s.dest.String()
	s.logger.Info("consolidated output uploaded", zap.Int64("rows", out.Rows))
	return out, nil
}

// S3Uploader uploads with the aws-sdk-go-v2 multipart upload manager. The
// client is created on first use from the default credential chain.
type S3Uploader struct {
	region      string
	partSize    int64
	concurrency int

	once     sync.Once
	uploader *manager.Uploader
	initErr  error
}

// NewS3Uploader creates an uploader; zero partSize or concurrency use the manager defaults.
func NewS3Uploader(region string, partSize int64, concurrency int) *S3Uploader {
	return &S3Uploader{region: region, partSize: partSize, concurrency: concurrency}
}

func (u *S3Uploader) init(ctx context.Context) error {
	u.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(u.region))
		if err != nil {
			u.initErr = err
			return
		}
		u.uploader = manager.NewUploader(s3.NewFromConfig(cfg), func(m *manager.Uploader) {
			if u.partSize > 0 {
				m.PartSize = u.partSize
			}
			if u.concurrency > 0 {
				m.Concurrency = u.concurrency
			}
		})
	})
	return u.initErr
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, dest Destination, contentType string) error {
	if err := u.init(ctx); err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dest.Bucket),
		Key:         aws.String(dest.Key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	return err
}

// GCSUploader uploads with cloud.google.com/go/storage.
type GCSUploader struct {
	credentialsFile string
}

// NewGCSUploader creates an uploader. An empty credentialsFile uses application default credentials.
func NewGCSUploader(credentialsFile string) *GCSUploader {
	return &GCSUploader{credentialsFile: credentialsFile}
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, dest Destination, contentType string) error {
	var opts []option.ClientOption
	if u.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(u.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create GCS client: %w", err)
	}
	defer client.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := client.Bucket(dest.Bucket).Object(dest.Key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}
