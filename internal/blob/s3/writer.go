package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager (also the S3 minimum part size, 5 MiB).
const multipartThreshold int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer that uploads objects to the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data, choosing a single PutObject for small payloads and the
// multipart upload manager for anything at or above the part-size minimum.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("s3blob: read payload for %s: %w", path, err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String(contentType),
	}

	if int64(len(buf)) >= multipartThreshold {
		uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		})
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
		}
		return nil
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}
