package imaging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// ErrArtifactMissing is returned when a file expected on disk is absent.
var ErrArtifactMissing = errors.New("artifact missing")

// TimestampLayout formats capture timestamps as yyyyMMddHHmmss.
const TimestampLayout = "20060102150405"

// Layout resolves artifact paths inside the three storage directories.
type Layout struct {
	CaptureDir   string // raw, unmodified captures
	StagedDir    string // masked captures awaiting confirmation
	ConfirmedDir string // confirmed captures, suffixed with their classification
}

// BaseName returns the identity token shared by a capture's artifacts.
func BaseName(slot int, timestamp string) string {
	return fmt.Sprintf("webcam_%d_%s", slot, timestamp)
}

// RawPath returns <capture>/<base>.png.
func (l Layout) RawPath(base string) string {
	return filepath.Join(l.CaptureDir, base+".png")
}

// StagedPath returns <staging>/<base>.png.
func (l Layout) StagedPath(base string) string {
	return filepath.Join(l.StagedDir, base+".png")
}

// ConfirmedPath returns <confirmed>/<base>_<classification>.png.
func (l Layout) ConfirmedPath(base string, classification fmt.Stringer) string {
	return filepath.Join(l.ConfirmedDir, base+"_"+classification.String()+".png")
}

// EnsureDirs creates all three directories.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.CaptureDir, l.StagedDir, l.ConfirmedDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PromoteToConfirmed moves stagedPath to confirmedPath, creating the
// destination directory if needed. A missing source yields ErrArtifactMissing.
func PromoteToConfirmed(stagedPath, confirmedPath string) error {
	if !Exists(stagedPath) {
		return fmt.Errorf("promote %s: %w", stagedPath, ErrArtifactMissing)
	}
	if err := os.MkdirAll(filepath.Dir(confirmedPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Rename(stagedPath, confirmedPath); err != nil {
		// Rename fails across filesystems; fall back to copy and remove.
		if cerr := copyFile(stagedPath, confirmedPath); cerr != nil {
			return fmt.Errorf("promote %s: %w", stagedPath, errors.Join(err, cerr))
		}
		if rerr := os.Remove(stagedPath); rerr != nil {
			return fmt.Errorf("remove staged %s: %w", stagedPath, rerr)
		}
	}
	debug.Verbose("Imaging: promoted %s -> %s", stagedPath, confirmedPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ListPNG returns the *.png files of dir sorted by name. A missing
// directory yields an empty list.
func ListPNG(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// CleanDir removes every *.png file in dir and returns how many were
// deleted. A missing directory is skipped.
func CleanDir(dir string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		debug.Warn("Cleanup: directory not found, skipping: %s", dir)
		return 0, nil
	}
	files, err := ListPNG(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		debug.Verbose("Cleanup: deleted %s", f)
	}
	return removed, errors.Join(errs...)
}
