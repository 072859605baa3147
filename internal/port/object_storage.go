package port

import "context"

type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}
