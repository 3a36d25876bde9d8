package avatar

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Extension is the file extension of avatar files.
const Extension = ".avatar"

// Scan hashes every avatar file in dir with up to concurrency files at a
// time. Files that cannot be read are logged and skipped.
func Scan(ctx context.Context, dir string, concurrency int, logger logr.Logger) ([]*Avatar, error) {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	if concurrency <= 0 {
		concurrency = -1
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}

	found := make([]*Avatar, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, p := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := HashFile(p)
			if err != nil {
				logger.Error(err, "unable to hash avatar", "path", p)
				return nil
			}
			found[i] = NewAvatar(hash, p)
			logger.V(1).Info("hashed avatar", "name", found[i].Name, "hash", hash)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	avatars := make([]*Avatar, 0, len(found))
	for _, a := range found {
		if a != nil {
			avatars = append(avatars, a)
		}
	}
	return avatars, nil
}

// HashFile returns the content hash of the file at path: the hex MD5 of its
// contents, which is the key the lookup service indexes avatars by.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
