package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// FolderBackups is the S3 prefix for history backups.
const FolderBackups = "backups"

const maxListedBackups = 100

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	BackupBucket         string
	PresignExpireMinutes int
}

// S3 uploads history backups and hands out pre-signed download URLs.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// BackupObject is one stored backup.
type BackupObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url"`
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("backup_bucket", cfg.BackupBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// BackupKey returns the object key for a backup taken at t: backups/history-{utc}.json.
func BackupKey(t time.Time) string {
	return path.Join(FolderBackups, "history-"+t.UTC().Format("20060102T150405Z")+".json")
}

// BackupBucket returns the backup bucket name.
func (s *S3) BackupBucket() string { return s.cfg.BackupBucket }

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// UploadBackup writes a JSON backup to the backup bucket, encrypted at rest.
func (s *S3) UploadBackup(ctx context.Context, key string, body []byte) error {
	size := int64(len(body))
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.cfg.BackupBucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ContentLength:        &size,
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}
	s.logger.Info("history backup uploaded", zap.String("bucket", s.cfg.BackupBucket), zap.String("key", key), zap.Int64("bytes", size))
	return nil
}

// PresignedBackupURL returns a pre-signed GET URL for a backup.
func (s *S3) PresignedBackupURL(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.BackupBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// ListBackups returns the newest backups first, each with a pre-signed download URL.
func (s *S3) ListBackups(ctx context.Context) ([]BackupObject, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.BackupBucket),
		Prefix:  aws.String(FolderBackups + "/"),
		MaxKeys: aws.Int32(maxListedBackups),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	list := make([]BackupObject, 0, len(out.Contents))
	for _, obj := range out.Contents {
		b := BackupObject{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size), LastModified: aws.ToTime(obj.LastModified)}
		if b.URL, err = s.PresignedBackupURL(ctx, b.Key); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key > list[j].Key })
	return list, nil
}
