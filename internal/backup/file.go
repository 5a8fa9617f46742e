package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
)

// FileSink keeps backups as files in one directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) Put(_ context.Context, name string, payload []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: invalid backup name %q", store.ErrInvalidTransaction, name)
	}
	tmp := filepath.Join(f.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, payload, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(f.dir, name))
}

func (f *FileSink) Get(_ context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: invalid backup name %q", store.ErrInvalidTransaction, name)
	}
	payload, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: backup %s", store.ErrNotFound, name)
	}
	return payload, err
}

// List returns stored backups, newest first.
func (f *FileSink) List(_ context.Context) ([]domain.BackupInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	backups := make([]domain.BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !ValidName(entry.Name()) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		backups = append(backups, domain.BackupInfo{Name: entry.Name(), Size: info.Size(), CreatedAt: info.ModTime().UTC()})
	}
	sortNewestFirst(backups)
	return backups, nil
}

func sortNewestFirst(backups []domain.BackupInfo) {
	slices.SortFunc(backups, func(a, b domain.BackupInfo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
}
