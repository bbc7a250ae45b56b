package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter on the client's bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager in partSize chunks,
// clamped to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentTypeJSONL),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
