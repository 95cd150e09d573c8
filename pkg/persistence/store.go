package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mikekulinski/zkclient/pkg/zxid"
)

const SnapshotFilePrefix = "session"

var (
	ErrNoSnapshot = errors.New("persistence: no session snapshot")
	ErrStale      = errors.New("persistence: snapshot is not newer than the last one saved")
)

// Field numbers of the snapshot record.
const (
	fieldSessionID protowire.Number = 1
	fieldPassword  protowire.Number = 2
	fieldTimeoutMs protowire.Number = 3
	fieldLastZxid  protowire.Number = 4
)

// Snapshot is everything needed to reattach to a live session from another
// process.
type Snapshot struct {
	SessionID int64
	Password  []byte
	Timeout   time.Duration
	LastZxid  zxid.ZXID
}

// Store keeps session snapshots in a directory. We write a new file for each
// snapshot, named by the last zxid the client had seen.
// "{dir}/session_{zxid}"
// Load returns the newest one.
type Store struct {
	// mu protects all the fields in the Store. Hold the lock before
	// reading/writing any of them.
	mu       sync.Mutex
	dir      string
	saved    bool
	LastZxid zxid.ZXID
}

func NewStore(dir string) (*Store, error) {
	// Make sure to trim any trailing slashes if the provided path contains one.
	dir = strings.TrimSuffix(dir, "/")

	fileInfo, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("file path %q does not point to a directory", dir)
	}

	s := &Store{dir: dir}
	zxids, err := s.zxids()
	if err != nil {
		return nil, err
	}
	if len(zxids) > 0 {
		s.saved = true
		s.LastZxid = zxids[len(zxids)-1]
	}
	return s, nil
}

// Save writes snap as a new snapshot file. A snapshot whose zxid is not newer
// than the last saved one is rejected, so a lagging writer can't roll the
// store back.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved && snap.LastZxid <= s.LastZxid {
		return fmt.Errorf("%w: %s <= %s", ErrStale, snap.LastZxid, s.LastZxid)
	}

	// Write to a temp file and rename so readers never see a partial record.
	name := s.fileName(snap.LastZxid)
	tmp, err := os.CreateTemp(s.dir, ".tmp_"+SnapshotFilePrefix)
	if err != nil {
		return fmt.Errorf("error creating snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(marshal(snap)); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("error publishing snapshot: %w", err)
	}

	// Update the last zxid only after the snapshot is on disk.
	s.saved = true
	s.LastZxid = snap.LastZxid
	return nil
}

// Load returns the newest snapshot in the store.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	zxids, err := s.zxids()
	if err != nil {
		return Snapshot{}, err
	}
	if len(zxids) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	b, err := os.ReadFile(s.fileName(zxids[len(zxids)-1]))
	if err != nil {
		return Snapshot{}, fmt.Errorf("error reading snapshot: %w", err)
	}
	return unmarshal(b)
}

// Prune removes every snapshot except the newest keep.
func (s *Store) Prune(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zxids, err := s.zxids()
	if err != nil {
		return err
	}
	for len(zxids) > keep {
		if err := os.Remove(s.fileName(zxids[0])); err != nil {
			return err
		}
		zxids = zxids[1:]
	}
	return nil
}

// Clear removes every snapshot. The next Save is accepted whatever its zxid.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zxids, err := s.zxids()
	if err != nil {
		return err
	}
	for _, z := range zxids {
		if err := os.Remove(s.fileName(z)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	s.saved = false
	s.LastZxid = 0
	return nil
}

func (s *Store) fileName(z zxid.ZXID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d", SnapshotFilePrefix, int64(z)))
}

// zxids lists the snapshot zxids in ascending order.
func (s *Store) zxids() ([]zxid.ZXID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []zxid.ZXID
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), SnapshotFilePrefix+"_")
		if !ok || e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, zxid.ZXID(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func marshal(snap Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.SessionID))
	b = protowire.AppendTag(b, fieldPassword, protowire.BytesType)
	b = protowire.AppendBytes(b, snap.Password)
	b = protowire.AppendTag(b, fieldTimeoutMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.Timeout.Milliseconds()))
	b = protowire.AppendTag(b, fieldLastZxid, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.LastZxid))
	return b
}

func unmarshal(b []byte) (Snapshot, error) {
	var snap Snapshot
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Snapshot{}, fmt.Errorf("error decoding snapshot tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldPassword && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("error decoding password: %w", protowire.ParseError(n))
			}
			snap.Password = append([]byte(nil), v...)
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("error decoding field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldSessionID:
				snap.SessionID = int64(v)
			case fieldTimeoutMs:
				snap.Timeout = time.Duration(v) * time.Millisecond
			case fieldLastZxid:
				snap.LastZxid = zxid.ZXID(v)
			}
			b = b[n:]
		default:
			// Skip fields written by a newer version.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("error skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return snap, nil
}
