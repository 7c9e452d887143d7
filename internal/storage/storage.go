// Package storage is where archive files are written, read and pruned.
package storage

import (
	"context"
	"io"
)

type Storage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Location() string
}

// MetadataStorage keeps small side files next to the archives.
type MetadataStorage interface {
	Storage
	PutMetadata(ctx context.Context, name string, data []byte) error
	GetMetadata(ctx context.Context, name string) ([]byte, error)
}

// ReadAll opens name and reads it whole.
func ReadAll(ctx context.Context, s Storage, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
