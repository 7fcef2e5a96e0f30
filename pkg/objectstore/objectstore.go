// Package objectstore abstracts the content-addressed store holding bulk
// data: training code, dataset chunks and model weights. Entities reference
// its contents by hash only.
package objectstore

import "context"

type Entry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type Store interface {
	// AddFile uploads a file and returns its content hash.
	AddFile(ctx context.Context, path string) (string, error)
	// AddDir uploads a directory tree and returns the root hash.
	AddDir(ctx context.Context, path string) (string, error)
	// Download fetches the object behind hash into dir, returning the
	// local path.
	Download(ctx context.Context, hash, dir string) (string, error)
	// Ls lists a directory object, split into subdirectories and files.
	Ls(ctx context.Context, dirHash string) (dirs, files []Entry, err error)
	// Read returns the raw bytes of a file object.
	Read(ctx context.Context, hash string) ([]byte, error)
}
