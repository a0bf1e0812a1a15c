package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxNameAttempts = 1000

// Delivery is a fully verified file ready to hand to the user.
type Delivery struct {
	JobID string
	Peer  string
	Name  string
	MIME  string
	Data  []byte
}

type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) (string, error)
}

// Recorder persists finished jobs.
type Recorder interface {
	Record(ctx context.Context, job Job) error
}

// DirDeliverer writes received files into Dir without overwriting anything
// already there.
type DirDeliverer struct {
	Dir  string
	Perm os.FileMode
}

func NewDirDeliverer(dir string) *DirDeliverer {
	return &DirDeliverer{Dir: dir, Perm: 0o644}
}

func (d *DirDeliverer) Deliver(_ context.Context, del Delivery) (string, error) {
	name, err := SanitizeFileName(del.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(d.Dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, d.Perm)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		if _, err := f.Write(del.Data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("closing %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, d.Dir)
}
