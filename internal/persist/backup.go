package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Backup is a verbatim copy of a source file taken before it was replaced
type Backup struct {
	ID         string    `yaml:"backup_id"`
	SourcePath string    `yaml:"source_path"`
	CreatedAt  time.Time `yaml:"created_at"`
	Size       int64     `yaml:"size"`
	SHA256     string    `yaml:"sha256"`
	Data       []byte    `yaml:"-"`
}

// BackupStore keeps immutable backups namespaced by source path
type BackupStore interface {
	Put(sourcePath string, data []byte) (Backup, error)
	Get(sourcePath, id string) (Backup, error)
	List(sourcePath string) ([]Backup, error)
}

var backupIDPattern = regexp.MustCompile(`^[0-9]{20}$`)

// DirStore stores backups on disk as
//
//	<root>/<hash of absolute source path>/<backup_id>.bak
//	<root>/<hash of absolute source path>/<backup_id>.yaml
//
// Backup ids are zero-padded nanosecond timestamps, bumped when needed so they
// strictly increase within one source path.
type DirStore struct {
	root string
	now  func() time.Time

	mu   sync.Mutex
	last map[string]int64
}

// NewDirStore creates a store rooted at dir. The directory is created on first write.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir, now: time.Now, last: make(map[string]int64)}
}

// Root returns the backup directory
func (s *DirStore) Root() string { return s.root }

func (s *DirStore) namespace(sourcePath string) (string, string, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("resolving %s: %w", sourcePath, err)
	}
	sum := sha256.Sum256([]byte(abs))
	return abs, filepath.Join(s.root, hex.EncodeToString(sum[:8])), nil
}

// Put writes data as a new backup of sourcePath and returns it. Ids are the
// creation time in nanoseconds, so listing by name is listing by age.
func (s *DirStore) Put(sourcePath string, data []byte) (Backup, error) {
	abs, dir, err := s.namespace(sourcePath)
	if err != nil {
		return Backup{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Backup{}, fmt.Errorf("creating backup dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[abs]
	if !ok {
		if last, err = latestID(dir); err != nil {
			return Backup{}, err
		}
	}
	created := s.now().UTC()
	n := created.UnixNano()
	if n <= last {
		n = last + 1
	}
	id := fmt.Sprintf("%020d", n)

	sum := sha256.Sum256(data)
	b := Backup{
		ID:         id,
		SourcePath: abs,
		CreatedAt:  created,
		Size:       int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		Data:       data,
	}

	blob := filepath.Join(dir, id+".bak")
	if err := writeExclusive(blob, data); err != nil {
		return Backup{}, fmt.Errorf("writing backup %s: %w", id, err)
	}
	meta, err := yaml.Marshal(&b)
	if err != nil {
		os.Remove(blob)
		return Backup{}, fmt.Errorf("encoding backup metadata: %w", err)
	}
	if err := writeExclusive(filepath.Join(dir, id+".yaml"), meta); err != nil {
		os.Remove(blob)
		return Backup{}, fmt.Errorf("writing backup metadata %s: %w", id, err)
	}

	s.last[abs] = n
	return b, nil
}

// writeExclusive creates path, failing if it exists, and syncs it to disk
func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func latestID(dir string) (int64, error) {
	ids, err := listIDs(dir)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return strconv.ParseInt(ids[len(ids)-1], 10, 64)
}

func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	var ids []string
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".yaml")
		if ok && backupIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Get reads one backup of sourcePath and checks it against its recorded hash
func (s *DirStore) Get(sourcePath, id string) (Backup, error) {
	if !backupIDPattern.MatchString(id) {
		return Backup{}, fmt.Errorf("%w: %q", ErrBackupNotFound, id)
	}
	_, dir, err := s.namespace(sourcePath)
	if err != nil {
		return Backup{}, err
	}
	b, err := readMeta(filepath.Join(dir, id+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return Backup{}, fmt.Errorf("%w: %s for %s", ErrBackupNotFound, id, sourcePath)
	}
	if err != nil {
		return Backup{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, id+".bak"))
	if err != nil {
		return Backup{}, fmt.Errorf("reading backup %s: %w", id, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != b.SHA256 {
		return Backup{}, fmt.Errorf("backup %s: content does not match its checksum", id)
	}
	b.Data = data
	return b, nil
}

// List returns the backups of a source path, oldest first, without their data
func (s *DirStore) List(sourcePath string) ([]Backup, error) {
	_, dir, err := s.namespace(sourcePath)
	if err != nil {
		return nil, err
	}
	ids, err := listIDs(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Backup, 0, len(ids))
	for _, id := range ids {
		b, err := readMeta(filepath.Join(dir, id+".yaml"))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func readMeta(path string) (Backup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Backup{}, err
	}
	var b Backup
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return Backup{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return b, nil
}
