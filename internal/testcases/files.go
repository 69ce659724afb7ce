package testcases

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"os"
	"path/filepath"
)

const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// RandomString returns n random lowercase letters.
func RandomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[mathrand.IntN(len(letters))]
	}
	return string(b)
}

// capSize applies the effective ceiling to a requested size.
func capSize(size, limit int64) int64 {
	if limit > 0 && size > limit {
		return limit
	}
	return size
}

// GenerateFile writes size random bytes into a randomly named file in dir and
// returns its name.
func GenerateFile(dir string, size int64) (string, error) {
	name := RandomString(10)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		return "", fmt.Errorf("failed to fill %s: %w", name, err)
	}
	return name, f.Close()
}

// generateFiles creates one file per size, each capped at limit.
func generateFiles(dir string, limit int64, sizes ...int64) ([]string, error) {
	names := make([]string, 0, len(sizes))
	for _, size := range sizes {
		name, err := GenerateFile(dir, capSize(size, limit))
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func fileDigest(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), n, nil
}

// checkDownloads verifies that every served file in www arrived unmodified in
// downloads and that nothing else was downloaded.
func checkDownloads(env *Env) error {
	served, err := os.ReadDir(env.WWW)
	if err != nil {
		return fmt.Errorf("failed to list served files: %w", err)
	}
	downloaded, err := os.ReadDir(env.Downloads)
	if err != nil {
		return fmt.Errorf("failed to list downloaded files: %w", err)
	}
	if len(downloaded) != len(served) {
		return fmt.Errorf("downloaded %d files, expected %d", len(downloaded), len(served))
	}
	for _, entry := range served {
		want, wantSize, err := fileDigest(filepath.Join(env.WWW, entry.Name()))
		if err != nil {
			return err
		}
		got, gotSize, err := fileDigest(filepath.Join(env.Downloads, entry.Name()))
		if err != nil {
			return fmt.Errorf("missing download %s: %w", entry.Name(), err)
		}
		if gotSize != wantSize {
			return fmt.Errorf("%s: downloaded %d bytes, expected %d", entry.Name(), gotSize, wantSize)
		}
		if string(got) != string(want) {
			return fmt.Errorf("%s: content differs from served file", entry.Name())
		}
	}
	return nil
}

// checkNonEmptyFile fails unless path exists and has content.
func checkNonEmptyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return nil
}

// checkNonEmptyDir fails unless dir contains at least one file.
func checkNonEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("missing %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("no files in %s", dir)
}
