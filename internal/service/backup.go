package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
)

var ErrBackupUnavailable = errors.New("backup storage is not configured")

// ExportBackup encodes the full business state as a backup document.
func (s *Service) ExportBackup(ctx context.Context) ([]byte, error) {
	snap, err := s.repo.Export(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := backup.Encode(snap, s.now())
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	s.logAudit(ctx, "backup_export", "backup", "", fmt.Sprintf("bytes=%d", len(payload)))
	return payload, nil
}

// StoreBackup writes a fresh backup to the configured sink and returns its
// listing entry.
func (s *Service) StoreBackup(ctx context.Context) (domain.BackupInfo, error) {
	if s.sink == nil {
		return domain.BackupInfo{}, ErrBackupUnavailable
	}
	at := s.now()
	snap, err := s.repo.Export(ctx)
	if err != nil {
		return domain.BackupInfo{}, err
	}
	payload, err := backup.Encode(snap, at)
	if err != nil {
		return domain.BackupInfo{}, fmt.Errorf("encode backup: %w", err)
	}
	name := backup.Name(at)
	if err := s.sink.Put(ctx, name, payload); err != nil {
		return domain.BackupInfo{}, err
	}
	s.logAudit(ctx, "backup_store", "backup", name, fmt.Sprintf("bytes=%d", len(payload)))
	return domain.BackupInfo{Name: name, Size: int64(len(payload)), CreatedAt: at}, nil
}

func (s *Service) ListBackups(ctx context.Context) ([]domain.BackupInfo, error) {
	if s.sink == nil {
		return nil, ErrBackupUnavailable
	}
	return s.sink.List(ctx)
}

// RestoreBackup replaces every business collection with the contents of
// payload. The document is fully validated first; a rejected document leaves
// the current state untouched. When a sink is configured the state being
// replaced is saved to it before the restore.
func (s *Service) RestoreBackup(ctx context.Context, payload []byte) (domain.Snapshot, error) {
	doc, err := backup.Decode(payload)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := withWalkInCustomer(doc.Collections, s.now())
	if err := ledger.CheckSnapshot(snap); err != nil {
		return domain.Snapshot{}, err
	}

	if s.sink != nil {
		saved, err := s.StoreBackup(ctx)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("save pre-restore backup: %w", err)
		}
		s.log.Info("saved state before restore", zap.String("backup", saved.Name))
	}

	if err := s.repo.Restore(ctx, snap); err != nil {
		return domain.Snapshot{}, err
	}
	s.logAudit(ctx, "backup_restore", "backup", "",
		fmt.Sprintf("taken=%s,products=%d,sales=%d", doc.Timestamp.Format("2006-01-02T15:04:05Z"), len(snap.Products), len(snap.Sales)))
	return snap, nil
}

// RestoreFromSink restores the named backup held by the sink.
func (s *Service) RestoreFromSink(ctx context.Context, name string) (domain.Snapshot, error) {
	if s.sink == nil {
		return domain.Snapshot{}, ErrBackupUnavailable
	}
	if !backup.ValidName(name) {
		return domain.Snapshot{}, fmt.Errorf("%w: invalid backup name %q", store.ErrInvalidTransaction, name)
	}
	payload, err := s.sink.Get(ctx, name)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.RestoreBackup(ctx, payload)
}

// withWalkInCustomer adds the reserved walk-in customer when a document
// lacks it.
func withWalkInCustomer(snap domain.Snapshot, at time.Time) domain.Snapshot {
	for _, c := range snap.Customers {
		if c.ID == domain.GeneralCustomerID {
			return snap
		}
	}
	customers := make([]domain.Customer, 0, len(snap.Customers)+1)
	customers = append(customers, domain.Customer{
		ID:        domain.GeneralCustomerID,
		Name:      "Walk-in",
		Type:      domain.CustomerTypeGeneral,
		CreatedAt: at,
	})
	snap.Customers = append(customers, snap.Customers...)
	return snap
}
