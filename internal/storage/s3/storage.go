package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/kvizyx/speakerlog/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrRecordingNotFound = errors.New("recording not found in s3")

type Storage struct {
	client *minio.Client

	s3Config config.S3
	now      func() time.Time
}

func NewStorage(client *minio.Client, config config.S3) *Storage {
	return &Storage{
		client:   client,
		s3Config: config,
		now:      time.Now,
	}
}

// NewClient creates minio client and ensures that bucket is created, otherwise create new one.
func NewClient(ctx context.Context, cfg config.S3, secure bool) (*minio.Client, error) {
	minioClient, err := minio.New(cfg.Addr, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucketExists, err := minioClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if bucketExists {
		return minioClient, nil
	}

	err = minioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return minioClient, nil
}

// UploadRecording stores the file under objectKey with the configured expiry.
func (s *Storage) UploadRecording(ctx context.Context, objectKey, filePath string) error {
	uploadID, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed to generate upload id: %w", err)
	}

	uploadOpts := minio.PutObjectOptions{
		ContentType: contentType(objectKey),
		Expires:     s.now().Add(s.s3Config.RecordTTL),
		UserMetadata: map[string]string{
			"upload-id": uploadID.String(),
		},
	}

	_, err = s.client.FPutObject(ctx, s.s3Config.Bucket, objectKey, filePath, uploadOpts)
	if err != nil {
		return fmt.Errorf("failed to upload recording to s3: %w", err)
	}

	return nil
}

// DownloadRecording streams an archived recording. The caller closes the reader.
func (s *Storage) DownloadRecording(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(
		ctx, s.s3Config.Bucket,
		objectKey,
		minio.GetObjectOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to download recording from s3: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key.
	if _, err = object.Stat(); err != nil {
		_ = object.Close()

		if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to download recording from s3: %w", err)
	}

	return object, nil
}

func contentType(objectKey string) string {
	switch path.Ext(objectKey) {
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
