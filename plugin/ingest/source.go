package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/incometax/taxbot/plugin/storage/s3"
)

const markdownSuffix = ".md"

// Source lists and reads the markdown files of a corpus.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) (string, error)
}

// DirSource reads markdown files below a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) List(ctx context.Context) ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), markdownSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %s", s.Dir)
	}
	sort.Strings(names)
	return names, nil
}

func (s DirSource) Read(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(name)))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", name)
	}
	return string(data), nil
}

// BucketSource reads markdown objects below a prefix of an S3 bucket.
type BucketSource struct {
	Client *s3.Client
	Prefix string
}

func (s BucketSource) List(ctx context.Context) ([]string, error) {
	keys, err := s.Client.ListObjects(ctx, s.Prefix, markdownSuffix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s BucketSource) Read(ctx context.Context, name string) (string, error) {
	data, err := s.Client.GetObject(ctx, name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
