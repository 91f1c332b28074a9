package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// MembershipRecord captures the joined projects for one endpoint. Projects
// keeps original join order so replay after reconnect is stable.
type MembershipRecord struct {
	Endpoint schema.Endpoint    `json:"endpoint"`
	Projects []schema.ProjectID `json:"projects"`
}

// Store persists per-endpoint membership records to disk. Each endpoint gets
// its own file, so writes for different endpoints never interleave into one
// record.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// LoadMembership reads the membership record for an endpoint. A missing
// record is not an error; it reports ok=false.
func (s *Store) LoadMembership(endpoint schema.Endpoint) ([]schema.ProjectID, bool, error) {
	path := s.pathForEndpoint(endpoint)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("membership load miss", "endpoint", endpoint)
			}
			return nil, false, nil
		}
		if s.log != nil {
			s.log.Warn("membership load failed", "endpoint", endpoint, "err", err)
		}
		return nil, false, err
	}
	var record MembershipRecord
	if err := json.Unmarshal(data, &record); err != nil {
		if s.log != nil {
			s.log.Warn("membership load failed", "endpoint", endpoint, "err", err)
		}
		return nil, false, err
	}
	projects := make([]schema.ProjectID, 0, len(record.Projects))
	for _, project := range record.Projects {
		if strings.TrimSpace(string(project)) == "" {
			continue
		}
		projects = append(projects, project)
	}
	if s.log != nil {
		s.log.Debug("membership load ok", "endpoint", endpoint, "projects", len(projects))
	}
	return projects, true, nil
}

// SaveMembership writes the membership record for an endpoint atomically.
func (s *Store) SaveMembership(endpoint schema.Endpoint, projects []schema.ProjectID) error {
	path := s.pathForEndpoint(endpoint)
	record := MembershipRecord{
		Endpoint: endpoint,
		Projects: append([]schema.ProjectID(nil), projects...),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return s.saveFailed(endpoint, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return s.saveFailed(endpoint, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "membership-*.json")
	if err != nil {
		return s.saveFailed(endpoint, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(endpoint, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(endpoint, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(endpoint, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(endpoint, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return s.saveFailed(endpoint, err)
	}
	if s.log != nil {
		s.log.Trace("membership save ok", "endpoint", endpoint, "projects", len(projects))
	}
	return nil
}

func (s *Store) saveFailed(endpoint schema.Endpoint, err error) error {
	if s.log != nil {
		s.log.Warn("membership save failed", "endpoint", endpoint, "err", err)
	}
	return err
}

func (s *Store) pathForEndpoint(endpoint schema.Endpoint) string {
	name := sanitize(string(endpoint))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
