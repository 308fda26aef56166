package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"boundary-soar/internal/incident"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectPutter is the subset of *s3.Client used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is the audit document written for one execution.
type Record struct {
	ArchivedAt time.Time           `json:"archived_at"`
	Execution  *incident.Execution `json:"execution"`
}

// Metrics reports archiver counters.
type Metrics struct {
	Objects int64 `json:"objects"`
	Bytes   int64 `json:"bytes"`
	Errors  int64 `json:"errors"`
}

// S3Archiver writes executions to S3.
type S3Archiver struct {
	client ObjectPutter
	config Config
	logger *slog.Logger
	now    func() time.Time

	objects atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
}

// NewS3Archiver creates an archiver over client.
func NewS3Archiver(client ObjectPutter, cfg Config, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{client: client, config: cfg, logger: logger, now: time.Now}
}

// ArchiveExecution uploads one execution record.
func (a *S3Archiver) ArchiveExecution(ctx context.Context, exec *incident.Execution) error {
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(Record{ArchivedAt: a.now().UTC(), Execution: exec})
	if err != nil {
		a.errors.Add(1)
		return fmt.Errorf("archive: marshal execution %s: %w", exec.ID, err)
	}

	key := a.Key(exec)
	input := &s3.PutObjectInput{
		Bucket:       aws.String(a.config.Bucket),
		Key:          aws.String(key),
		ContentType:  aws.String("application/json"),
		StorageClass: a.config.storageClass(),
		Metadata: map[string]string{
			"execution-id": exec.ID,
			"incident-id":  exec.IncidentID,
			"playbook-id":  exec.PlaybookID,
			"status":       string(exec.Status),
		},
	}
	if a.config.Compress {
		if body, err = gzipBytes(body); err != nil {
			a.errors.Add(1)
			return fmt.Errorf("archive: compress execution %s: %w", exec.ID, err)
		}
		input.ContentEncoding = aws.String("gzip")
	}
	input.Body = bytes.NewReader(body)

	switch a.config.ServerSideEncryption {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if a.config.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(a.config.KMSKeyID)
		}
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		a.errors.Add(1)
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}

	a.objects.Add(1)
	a.bytes.Add(int64(len(body)))
	a.logger.Debug("execution archived",
		"execution_id", exec.ID,
		"incident_id", exec.IncidentID,
		"key", key,
		"size", len(body),
	)
	return nil
}

// Key returns the object key for an execution.
func (a *S3Archiver) Key(exec *incident.Execution) string {
	ts := exec.StartedAt
	if ts.IsZero() {
		ts = a.now()
	}
	key := strings.NewReplacer(
		"{date}", ts.UTC().Format("2006/01/02"),
		"{incident}", exec.IncidentID,
		"{playbook}", exec.PlaybookID,
		"{id}", exec.ID,
	).Replace(a.config.PathTemplate)
	if a.config.Compress {
		key += ".gz"
	}
	return a.config.Prefix + key
}

// Metrics returns a snapshot of the archiver counters.
func (a *S3Archiver) Metrics() Metrics {
	return Metrics{
		Objects: a.objects.Load(),
		Bytes:   a.bytes.Load(),
		Errors:  a.errors.Load(),
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
