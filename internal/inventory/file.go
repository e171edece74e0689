package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// FileAccount is an AccountAPI reading the inventory export written by
// the out-of-process vendor API adapter.
//
// The export is a JSON array of descriptors; the file's modification
// time becomes the snapshot's fetch time. A missing file maps to
// ErrUnavailable and a permission error to ErrAuthentication, so the
// fleet manager's error handling matches the live-API adapter's.
type FileAccount struct {
	path string
}

// NewFileAccount creates an account adapter over an inventory export.
func NewFileAccount(path string) *FileAccount {
	return &FileAccount{path: path}
}

// FetchInventory reads and parses the inventory export.
//
// Parameters:
//   - ctx: Checked for cancellation before the read
//
// Returns:
//   - *Snapshot: Parsed inventory
//   - error: ErrUnavailable, ErrAuthentication, or a parse error
func (a *FileAccount) FetchInventory(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(a.path)
	if err != nil {
		return nil, classifyFileError(err)
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, classifyFileError(err)
	}

	var devices []Descriptor
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing inventory export %s: %w", a.path, err)
	}

	fetchedAt := info.ModTime().UTC()
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	return &Snapshot{FetchedAt: fetchedAt, Devices: devices}, nil
}

func classifyFileError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
