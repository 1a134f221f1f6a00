package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jd3nn1s/dashlog/record"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const segmentPrefix = "dat."

// File is the part of *os.File a segment needs.
type File interface {
	io.Writer
	Truncate(size int64) error
	Sync() error
	Close() error
}

// to allow testing
var createFile = func(path string) (File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
}

// SegmentStore appends records to a sequence of files in one directory,
// named dat.YYYYMMDD.HHMMSS.<seq>. A segment only ever holds whole
// records: a write that fails part way is cut back to the last synced
// length.
type SegmentStore struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration

	f      File
	name   string
	size   int64
	opened time.Time
	seq    uint32

	// to allow testing
	now func() time.Time
}

// NewSegmentStore creates dir if needed and repairs segments left behind
// by an unclean shutdown. maxBytes and maxAge bound a segment; zero means
// no bound.
func NewSegmentStore(dir string, maxBytes int64, maxAge time.Duration) (*SegmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create data directory %s", dir)
	}
	s := &SegmentStore{
		dir:      dir,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		seq:      uint32(time.Now().Unix()),
		now:      time.Now,
	}
	if err := s.repair(); err != nil {
		return nil, err
	}
	return s, nil
}

// repair truncates every segment to a whole number of records.
func (s *SegmentStore) repair() error {
	names, err := s.Segments()
	if err != nil {
		return err
	}
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		fi, err := os.Stat(path)
		if err != nil {
			return errors.Wrap(err, "stat segment")
		}
		if tail := fi.Size() % record.Size; tail != 0 {
			log.WithField("segment", name).
				WithField("bytes", tail).
				Warn("truncating partial record")
			if err := os.Truncate(path, fi.Size()-tail); err != nil {
				return errors.Wrapf(err, "unable to repair %s", name)
			}
		}
	}
	return nil
}

// Segments lists the segment files in the directory, oldest first.
func (s *SegmentStore) Segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list data directory")
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), segmentPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Active is the name of the segment being written, empty before the first
// write.
func (s *SegmentStore) Active() string {
	return s.name
}

// Write appends recs to the active segment and syncs it. On error nothing
// of recs is left in the segment and the caller still owns them.
func (s *SegmentStore) Write(recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if s.rotationDue() {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	buf := make([]byte, 0, len(recs)*record.Size)
	for i := range recs {
		buf = append(buf, recs[i][:]...)
	}
	if _, err := s.f.Write(buf); err != nil {
		s.rollback()
		return errors.Wrapf(err, "write %s", s.name)
	}
	if err := s.f.Sync(); err != nil {
		s.rollback()
		return errors.Wrapf(err, "sync %s", s.name)
	}
	s.size += int64(len(buf))
	return nil
}

func (s *SegmentStore) rotationDue() bool {
	if s.f == nil {
		return true
	}
	if s.maxBytes > 0 && s.size >= s.maxBytes {
		return true
	}
	return s.maxAge > 0 && s.now().Sub(s.opened) >= s.maxAge
}

func (s *SegmentStore) rotate() error {
	s.closeActive()
	now := s.now()
	for tries := 0; ; tries++ {
		s.seq++
		name := fmt.Sprintf("%s%s.%08x", segmentPrefix, now.Format("20060102.150405"), s.seq)
		f, err := createFile(filepath.Join(s.dir, name))
		if err != nil {
			if os.IsExist(err) && tries < 5 {
				continue
			}
			return errors.Wrapf(err, "create %s", name)
		}
		s.f, s.name, s.size, s.opened = f, name, 0, now
		log.WithField("segment", name).Info("new segment")
		return nil
	}
}

// rollback cuts the segment back to its last synced length. If even that
// fails the segment is abandoned and the next write starts a new one.
func (s *SegmentStore) rollback() {
	if err := s.f.Truncate(s.size); err != nil {
		log.WithField("err", err).
			WithField("segment", s.name).
			Error("unable to roll back failed write, abandoning segment")
		s.closeActive()
	}
}

func (s *SegmentStore) closeActive() {
	if s.f == nil {
		return
	}
	if err := s.f.Close(); err != nil {
		log.WithField("err", err).WithField("segment", s.name).Warn("unable to close segment")
	}
	s.f = nil
}

func (s *SegmentStore) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
