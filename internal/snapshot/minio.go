package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioPublisher writes snapshots to S3-compatible object storage, one
// JSON object per room.
type MinioPublisher struct {
	client *minio.Client
	bucket string
}

func NewMinioPublisher(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioPublisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioPublisher{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the snapshot bucket if it does not exist.
func (p *MinioPublisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (p *MinioPublisher) objectName(roomID string) string {
	return "rooms/" + roomID + ".json"
}

func (p *MinioPublisher) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = p.client.PutObject(ctx, p.bucket, p.objectName(snap.RoomID),
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (p *MinioPublisher) Withdraw(ctx context.Context, roomID string) error {
	err := p.client.RemoveObject(ctx, p.bucket, p.objectName(roomID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
