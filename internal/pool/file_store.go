package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore keeps the pool and the reservation table in two JSON files.
//
// Pool file:        {"ADMIN": [{"email": "...", "password": "..."}], ...}
// Reservation file: {"admin1@test.com": "gw0"}
type FileStore struct {
	poolPath        string
	reservationPath string
	logger          *zap.Logger
}

// NewFileStore creates a store over the given files.
func NewFileStore(poolPath, reservationPath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		poolPath:        poolPath,
		reservationPath: reservationPath,
		logger:          logger,
	}
}

// PoolPath returns the static pool file path.
func (s *FileStore) PoolPath() string { return s.poolPath }

// ReservationPath returns the reservation file path.
func (s *FileStore) ReservationPath() string { return s.reservationPath }

// LoadPool reads the static identity definitions. There is no usable
// default, so any failure is a configuration error.
func (s *FileStore) LoadPool() (Pool, error) {
	data, err := os.ReadFile(s.poolPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, s.poolPath, err)
	}

	var raw map[string][]Identity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, s.poolPath, err)
	}

	p := make(Pool, len(raw))
	for name, ids := range raw {
		role, err := ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfig, s.poolPath, err)
		}
		out := make([]Identity, 0, len(ids))
		for i, id := range ids {
			if id.Email == "" {
				return nil, fmt.Errorf("%w: %s: %s[%d] has no email", ErrConfig, s.poolPath, name, i)
			}
			id.Role = role
			out = append(out, id)
		}
		p[role] = out
	}
	return p, nil
}

// LoadReservations reads the reservation table. A missing or corrupt file
// is treated as an empty table so a bad file never blocks the suite.
func (s *FileStore) LoadReservations() Reservations {
	data, err := os.ReadFile(s.reservationPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reservation file unreadable, treating as empty",
				zap.String("path", s.reservationPath), zap.Error(err))
		}
		return Reservations{}
	}

	var r Reservations
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Warn("reservation file corrupt, treating as empty",
			zap.String("path", s.reservationPath), zap.Error(err))
		return Reservations{}
	}
	if r == nil {
		r = Reservations{}
	}
	return r
}

// SaveReservations replaces the reservation table atomically.
func (s *FileStore) SaveReservations(r Reservations) error {
	if r == nil {
		r = Reservations{}
	}
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal reservations: %w", err)
	}
	return WriteFileAtomic(s.reservationPath, data, 0o644)
}

// ResetAll frees every identity and returns how many reservations existed.
func (s *FileStore) ResetAll() (int, error) {
	n := len(s.LoadReservations())
	if err := s.SaveReservations(Reservations{}); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
