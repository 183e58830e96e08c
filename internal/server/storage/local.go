// Package storage places accepted archives on the local filesystem and
// optionally mirrors them to S3-compatible object storage.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/filex"
)

// Directory marker that keeps the upload tree inert if it is ever exposed
// through a web server document root.
const denyMarkerName = ".htaccess"

const denyMarkerBody = `Require all denied
RemoveHandler .php .phtml .php3 .php4 .php5
php_flag engine off
`

// PlacedFile describes an archive durably written to its final location.
type PlacedFile struct {
	// StoragePath is the path relative to the store root, e.g.
	// "HIS/2025/09/export_20250901_a1b2c3d4_deadbeef.zip".
	StoragePath string
	StoredName  string
	Size        int64
	// Digest is the hex SHA-256 of the file contents, used for duplicate
	// detection only.
	Digest string
}

// LocalStore writes archives under root using the layout
// {category}/{year}/{month}/{synthesized-filename}.
type LocalStore struct {
	root string
}

// NewLocalStore ensures the root directory exists and returns a store.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *LocalStore) Root() string { return s.root }

// AbsPath resolves a storage path to an absolute filesystem path.
func (s *LocalStore) AbsPath(storagePath string) string {
	return filepath.Join(s.root, filepath.FromSlash(storagePath))
}

// Place streams src into the final location for (ownerID, category,
// logicalDate) and returns the storage path together with the content
// digest computed over the written bytes. Placement and digesting are one
// unit: any failure removes the partially written file, so nothing partial
// ever survives in the final location.
func (s *LocalStore) Place(ctx context.Context, ownerID, category string, logicalDate time.Time, originalName string, src io.Reader) (*PlacedFile, error) {
	relDir := filepath.Join(category, fmt.Sprintf("%04d", logicalDate.Year()), fmt.Sprintf("%02d", logicalDate.Month()))
	absDir, err := filex.EnsureDir(filepath.Join(s.root, relDir))
	if err != nil {
		return nil, err
	}
	if err := filex.WriteFileOnce(filepath.Join(absDir, denyMarkerName), []byte(denyMarkerBody), 0o640); err != nil {
		return nil, err
	}

	f, storedName, err := s.createUnique(absDir, ownerID, originalName, logicalDate)
	if err != nil {
		return nil, err
	}
	absPath := filepath.Join(absDir, storedName)

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hasher))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(absPath)
		return nil, fmt.Errorf("place %s: %w", storedName, err)
	}

	return &PlacedFile{
		StoragePath: filepath.ToSlash(filepath.Join(relDir, storedName)),
		StoredName:  storedName,
		Size:        size,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Remove deletes a placed file. A file that is already gone is not an error:
// record retention, not the blob, is authoritative.
func (s *LocalStore) Remove(storagePath string) error {
	err := os.Remove(s.AbsPath(storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", storagePath, err)
	}
	return nil
}

// createUnique opens the final file with O_EXCL so a name collision is
// detected before any byte is written. The first retry switches to a longer
// random suffix; residual collisions after that indicate something is wrong.
func (s *LocalStore) createUnique(absDir, ownerID, originalName string, logicalDate time.Time) (*os.File, string, error) {
	suffixLen := 4
	for attempt := 0; attempt < 4; attempt++ {
		name, err := synthesizeName(ownerID, originalName, logicalDate, suffixLen)
		if err != nil {
			return nil, "", err
		}
		f, err := os.OpenFile(filepath.Join(absDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			return f, name, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create %s: %w", name, err)
		}
		// Forced-unique variant.
		suffixLen = 16
	}
	return nil, "", fmt.Errorf("could not allocate a unique name in %s", absDir)
}

// synthesizeName builds a filename that is never taken verbatim from user
// input: cleaned basename, logical date, owner-derived short hash and a
// random suffix, keeping only the (already validated) extension.
func synthesizeName(ownerID, originalName string, logicalDate time.Time, suffixLen int) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := cleanBaseName(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)))

	suffix, err := common.MakeRandHexString(suffixLen)
	if err != nil {
		return "", err
	}

	ownerSum := sha256.Sum256([]byte(ownerID))
	ownerHash := hex.EncodeToString(ownerSum[:4])

	return fmt.Sprintf("%s_%s_%s_%s%s", base, logicalDate.Format("20060102"), ownerHash, suffix, ext), nil
}

// cleanBaseName keeps a short, readable prefix of the client filename:
// ASCII letters, digits, dash and underscore only, at most 40 runes.
func cleanBaseName(base string) string {
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 40 {
			break
		}
	}
	if b.Len() == 0 {
		return "archive"
	}
	return b.String()
}
