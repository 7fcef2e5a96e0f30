package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const filePermissions = 0o644

// IPFS talks to a go-ipfs node over its HTTP API.
type IPFS struct {
	apiURL string
	client *http.Client
}

var _ Store = (*IPFS)(nil)

func NewIPFS(apiURL string, timeout time.Duration) *IPFS {
	return &IPFS{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

func (s *IPFS) AddFile(ctx context.Context, path string) (string, error) {
	resp, err := s.add(ctx, []string{path}, false)
	if err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("adding %s: empty response", path)
	}

	return resp[len(resp)-1].Hash, nil
}

func (s *IPFS) AddDir(ctx context.Context, path string) (string, error) {
	var files []string
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, p)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	resp, err := s.add(ctx, files, true)
	if err != nil {
		return "", err
	}
	// The last entry of a wrapped add is the directory root.
	if len(resp) == 0 {
		return "", fmt.Errorf("adding %s: empty response", path)
	}

	return resp[len(resp)-1].Hash, nil
}

func (s *IPFS) add(ctx context.Context, paths []string, wrap bool) ([]addResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range paths {
		fw, err := mw.CreateFormFile("file", filepath.Base(p))
		if err != nil {
			return nil, err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(fw, f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	endpoint := s.apiURL + "/api/v0/add"
	if wrap {
		endpoint += "?wrap-with-directory=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object store add: unexpected status %d", resp.StatusCode)
	}

	// The API streams one JSON object per added entry.
	var out []addResponse
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var ar addResponse
		if err := dec.Decode(&ar); err != nil {
			return nil, err
		}
		out = append(out, ar)
	}

	return out, nil
}

func (s *IPFS) Download(ctx context.Context, hash, dir string) (string, error) {
	data, err := s.Read(ctx, hash)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, hash)
	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return "", err
	}

	return path, nil
}

type lsResponse struct {
	Objects []struct {
		Links []struct {
			Name string `json:"Name"`
			Hash string `json:"Hash"`
			Size int64  `json:"Size"`
			Type int    `json:"Type"`
		} `json:"Links"`
	} `json:"Objects"`
}

func (s *IPFS) Ls(ctx context.Context, dirHash string) (dirs, files []Entry, err error) {
	resp, err := s.post(ctx, "/api/v0/ls?arg="+url.QueryEscape(dirHash))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("object store ls: unexpected status %d", resp.StatusCode)
	}

	var lr lsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, nil, err
	}

	const typeDir = 1
	for _, obj := range lr.Objects {
		for _, link := range obj.Links {
			entry := Entry{Name: link.Name, Hash: link.Hash, Size: link.Size}
			if link.Type == typeDir {
				dirs = append(dirs, entry)
			} else {
				files = append(files, entry)
			}
		}
	}

	return dirs, files, nil
}

func (s *IPFS) Read(ctx context.Context, hash string) ([]byte, error) {
	resp, err := s.post(ctx, "/api/v0/cat?arg="+url.QueryEscape(hash))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object store cat: unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (s *IPFS) post(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+path, nil)
	if err != nil {
		return nil, err
	}

	return s.client.Do(req)
}
