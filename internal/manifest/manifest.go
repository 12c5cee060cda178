package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/textgo/blobstore"
	"github.com/hupe1980/textgo/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = binaryVersion
)

// Manifest describes the durable state of the index at a point in time.
type Manifest struct {
	FormatVersion  int
	ID             uint64
	CreatedAt      time.Time
	IndexVersion   model.Version
	NextSegmentID  model.SegmentID
	LastFlushedSeq uint64
	NextTxID       uint64
	Segments       []SegmentInfo
}

// New creates a new empty manifest.
func New() *Manifest {
	return &Manifest{
		FormatVersion: CurrentVersion,
		CreatedAt:     time.Now(),
		NextSegmentID: 1, // Start segment IDs at 1
		NextTxID:      1,
	}
}

// SegmentInfo describes a single sealed segment.
type SegmentInfo struct {
	ID       model.SegmentID
	Level    int
	DocCount uint32
	Size     int64  // Size in bytes
	Path     string // Relative to data dir
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = slices.Clone(m.Segments)
	return &c
}

// FileName returns the manifest file name for id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, id)
}

func parseFileName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(name, ManifestFileName+"-")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".bin")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}

// Store manages the manifest files and atomic updates.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific manifest ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	if id == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
	} else {
		name = FileName(id)
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s referenced but missing", ErrCorrupt, name)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	return ReadBinary(bytes.NewReader(data))
}

// ListVersions returns the IDs of all manifest files, ascending.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestFileName)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, n := range names {
		if id, ok := parseFileName(n); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Save atomically saves a new manifest. It increments m.ID.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.FormatVersion = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}

	name := FileName(m.ID)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return err
	}
	return s.store.Put(ctx, CurrentFileName, []byte(name))
}

// Prune deletes all manifest files except the newest keep.
func (s *Store) Prune(ctx context.Context, keep int) error {
	ids, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids[:len(ids)-keep] {
		if err := s.store.Delete(ctx, FileName(id)); err != nil {
			return err
		}
	}
	return nil
}
