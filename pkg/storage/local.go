package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/provider"
)

// LocalStore 把本地目录作为文档来源，URI 形如 file:///abs/path。
type LocalStore struct {
	root string
}

var (
	_ provider.ObjectStore  = (*LocalStore)(nil)
	_ provider.ObjectWriter = (*LocalStore)(nil)
)

// NewLocalStore 创建 LocalStore，root 会被转换为绝对路径。
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Name() string { return "file://" + filepath.ToSlash(s.root) }

// Root 返回来源目录的绝对路径。
func (s *LocalStore) Root() string { return s.root }

// URIFor 返回绝对路径对应的 URI。
func (s *LocalStore) URIFor(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func (s *LocalStore) pathOf(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("%w: %s", provider.ErrObjectNotFound, uri)
	}
	p := filepath.FromSlash(strings.TrimPrefix(uri, "file://"))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s 不在 %s 之下", provider.ErrObjectNotFound, uri, s.root)
	}
	return p, nil
}

func (s *LocalStore) info(path string, fi fs.FileInfo, data []byte) provider.ObjectInfo {
	rel, _ := filepath.Rel(s.root, path)
	return provider.ObjectInfo{
		URI:         s.URIFor(path),
		Key:         filepath.ToSlash(rel),
		ContentHash: fingerprint.Sum(data),
		Size:        fi.Size(),
		ModifiedAt:  fi.ModTime(),
	}
}

func (s *LocalStore) ListChangedSince(ctx context.Context, since time.Time) ([]provider.ObjectInfo, error) {
	var out []provider.ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().Before(since) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			rel, _ := filepath.Rel(s.root, path)
			out = append(out, provider.ObjectInfo{URI: s.URIFor(path), Key: filepath.ToSlash(rel), Err: err})
			return nil
		}
		out = append(out, s.info(path, fi, data))
		return nil
	})
	return out, err
}

func (s *LocalStore) Read(_ context.Context, uri string) ([]byte, error) {
	p, err := s.pathOf(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", provider.ErrObjectNotFound, uri)
	}
	return data, err
}

func (s *LocalStore) Stat(ctx context.Context, uri string) (provider.ObjectInfo, error) {
	p, err := s.pathOf(uri)
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return provider.ObjectInfo{}, fmt.Errorf("%w: %s", provider.ErrObjectNotFound, uri)
	}
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	data, err := s.Read(ctx, uri)
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	return s.info(p, fi, data), nil
}

// Put 把内容写入 root 下的 key 路径。
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (provider.ObjectInfo, error) {
	p := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if _, err := s.pathOf(s.URIFor(p)); err != nil {
		return provider.ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return provider.ObjectInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return provider.ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	info := s.info(p, fi, data)
	info.ContentType = contentType
	return info, nil
}
