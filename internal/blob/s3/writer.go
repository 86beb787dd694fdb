package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// minPartSize is the S3 minimum part size for multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter. Paths are resolved against the
// client's key prefix.
type Writer struct {
	client *Client
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c}
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := w.client.ObjectKey(path)
	_, err := w.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.Bucket()),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams data through the multipart upload manager. partSize
// is raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client.S3(), func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	key := w.client.ObjectKey(path)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.Bucket()),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(jsonlContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
