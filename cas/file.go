package cas

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// FileCAS keeps blobs and refs as files under a directory, so they outlive
// the process that wrote them.
//
//	dir/objects/<hash>
//	dir/refs/<name>   holds the target hash in hex
type FileCAS struct {
	fs  afero.Fs
	dir string
}

func NewFileCAS(fs afero.Fs, dir string) (*FileCAS, error) {
	for _, sub := range []string{"objects", "refs"} {
		if err := fs.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating store %s: %w", dir, err)
		}
	}
	return &FileCAS{fs: fs, dir: dir}, nil
}

func (f *FileCAS) object(h Hash) string {
	return filepath.Join(f.dir, "objects", h.String())
}

func (f *FileCAS) ref(name Hash) string {
	return filepath.Join(f.dir, "refs", name.String())
}

// writeFile writes through a temporary name so readers never see a partial file.
func (f *FileCAS) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return f.fs.Rename(tmp, path)
}

func (f *FileCAS) Put(data []byte) (Hash, error) {
	h := Sum(data)
	if f.Has(h) {
		return h, nil
	}
	if err := f.writeFile(f.object(h), data); err != nil {
		return 0, fmt.Errorf("writing object %s: %w", h, err)
	}
	return h, nil
}

// Get treats an unreadable or damaged object as missing.
func (f *FileCAS) Get(h Hash) ([]byte, bool) {
	data, err := afero.ReadFile(f.fs, f.object(h))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Stringer("hash", h).Msg("reading stored object")
		}
		return nil, false
	}
	if Sum(data) != h {
		log.Warn().Stringer("hash", h).Msg("stored object does not match its hash")
		return nil, false
	}
	return data, true
}

func (f *FileCAS) Has(h Hash) bool {
	ok, err := afero.Exists(f.fs, f.object(h))
	return err == nil && ok
}

func (f *FileCAS) SetRef(name, target Hash) error {
	if err := f.writeFile(f.ref(name), []byte(target.String())); err != nil {
		return fmt.Errorf("writing ref %s: %w", name, err)
	}
	return nil
}

func (f *FileCAS) Ref(name Hash) (Hash, bool) {
	data, err := afero.ReadFile(f.fs, f.ref(name))
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 64)
	if err != nil {
		log.Warn().Stringer("ref", name).Msg("malformed ref")
		return 0, false
	}
	return Hash(v), true
}
