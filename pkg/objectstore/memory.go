package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	pkgerrors "github.com/makar21/core-sub000/pkg/errors"
)

// Memory is an in-process store used by tests and local mode. Hashes are
// content derived like the real store's.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	trees   map[string]map[string]string // dir hash -> name -> child hash
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		trees:   make(map[string]map[string]string),
	}
}

// Put stores raw bytes directly, bypassing the filesystem. Handy in tests.
func (s *Memory) Put(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(data)
}

// PutDir stores a directory object from a name -> content map.
func (s *Memory) PutDir(files map[string][]byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]string, len(files))
	for name, data := range files {
		tree[name] = s.put(data)
	}

	return s.putTree(tree)
}

func (s *Memory) AddFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return s.Put(data), nil
}

func (s *Memory) AddDir(_ context.Context, path string) (string, error) {
	files := make(map[string][]byte)
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		files[rel] = data

		return nil
	})
	if err != nil {
		return "", err
	}

	return s.PutDir(files), nil
}

// Download materializes the object behind hash under dir. Directory
// objects are written out recursively, file objects as a single file
// named by hash, matching the real store's get semantics.
func (s *Memory) Download(ctx context.Context, hash, dir string) (string, error) {
	s.mu.Lock()
	tree, isTree := s.trees[hash]
	s.mu.Unlock()

	path := filepath.Join(dir, hash)
	if isTree {
		if err := s.materialize(tree, path); err != nil {
			return "", err
		}

		return path, nil
	}

	data, err := s.Read(ctx, hash)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return "", err
	}

	return path, nil
}

func (s *Memory) materialize(tree map[string]string, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for name, childHash := range tree {
		s.mu.Lock()
		child, isTree := s.trees[childHash]
		data := s.objects[childHash]
		s.mu.Unlock()

		if isTree {
			if err := s.materialize(child, filepath.Join(root, name)); err != nil {
				return err
			}

			continue
		}
		// AddDir flattens nested paths into the entry name, so the
		// parent directories may not exist yet.
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, filePermissions); err != nil {
			return err
		}
	}

	return nil
}

func (s *Memory) Ls(_ context.Context, dirHash string) (dirs, files []Entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.trees[dirHash]
	if !ok {
		return nil, nil, fmt.Errorf("%w: directory %s", pkgerrors.ErrNotFound, dirHash)
	}

	for name, childHash := range tree {
		entry := Entry{Name: name, Hash: childHash}
		if _, isTree := s.trees[childHash]; isTree {
			dirs = append(dirs, entry)
		} else {
			entry.Size = int64(len(s.objects[childHash]))
			files = append(files, entry)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	return dirs, files, nil
}

func (s *Memory) Read(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[hash]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", pkgerrors.ErrNotFound, hash)
	}

	return data, nil
}

func (s *Memory) put(data []byte) string {
	sum := sha256.Sum256(data)
	hash := "mem" + hex.EncodeToString(sum[:])[:43]
	s.objects[hash] = data

	return hash
}

func (s *Memory) putTree(tree map[string]string) string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(tree[name]))
	}
	hash := "memdir" + hex.EncodeToString(h.Sum(nil))[:40]
	s.trees[hash] = tree

	return hash
}
