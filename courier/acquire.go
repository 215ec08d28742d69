package courier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	core "github.com/supplyetl/core"
)

// Fetcher streams bytes from a supplier's source descriptor. The
// spreadsheet-export path (master-sheet sync) is an external collaborator
// per spec's Non-goals; HTTPFetcher below covers the direct-file-URL case
// concretely, and any other descriptor scheme can be wired in by
// implementing this interface.
type Fetcher interface {
	// Fetch returns a stream of the source's bytes and the file extension
	// to use when staging it.
	Fetch(ctx context.Context, sourceDescriptor string) (io.ReadCloser, string, error)
}

// HTTPFetcher streams a direct file URL.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrUnreadable, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: status %d", core.ErrUnreadable, resp.StatusCode)
	}
	ext := strings.TrimPrefix(filepath.Ext(url), ".")
	if ext == "" {
		ext = "bin"
	}
	return resp.Body, ext, nil
}

// sidecarMeta mirrors the sidecar JSON written alongside every staged
// file (spec §4.1).
type sidecarMeta struct {
	JobID        int64     `json:"job_id"`
	SupplierID   int64     `json:"supplier_id"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256"`
	DeclaredKind string    `json:"declared_kind"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Acquirer implements download_and_trigger's file-staging half: fetch,
// enforce max_file_size, write the sidecar, and atomically rename into
// place so Intelligence never observes a partial file.
type Acquirer struct {
	SharedRoot    string
	MaxFileSizeMB int
	Fetcher       Fetcher
}

// Stage fetches sourceDescriptor and writes it to
// {shared_root}/supplier_{sid}_{job_id}.{ext} via a temp-file-then-rename,
// plus its .meta.json sidecar.
func (a *Acquirer) Stage(ctx context.Context, job core.Job, supplierID int64, sourceDescriptor, declaredKind string) (core.StagedFile, error) {
	rc, ext, err := a.Fetcher.Fetch(ctx, sourceDescriptor)
	if err != nil {
		return core.StagedFile{}, err
	}
	defer rc.Close()

	maxBytes := int64(a.MaxFileSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}

	finalName := fmt.Sprintf("supplier_%d_%d.%s", supplierID, job.ID, ext)
	finalPath := filepath.Join(a.SharedRoot, finalName)
	tmpPath := finalPath + ".part"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return core.StagedFile{}, fmt.Errorf("creating temp file: %w", err)
	}

	hasher := sha256.New()
	limited := io.LimitReader(rc, maxBytes+1)
	written, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return core.StagedFile{}, core.WrapKind(core.KindFileTooLarge, fmt.Errorf("copying file: %w", err))
	}
	if cerr := tmp.Close(); cerr != nil {
		os.Remove(tmpPath)
		return core.StagedFile{}, fmt.Errorf("closing temp file: %w", cerr)
	}
	if written > maxBytes {
		os.Remove(tmpPath)
		return core.StagedFile{}, core.WrapKind(core.KindFileTooLarge, core.ErrFileTooLarge)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return core.StagedFile{}, fmt.Errorf("renaming into place: %w", err)
	}

	acquiredAt := time.Now().UTC()
	meta := sidecarMeta{
		JobID:        job.ID,
		SupplierID:   supplierID,
		SizeBytes:    written,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		DeclaredKind: declaredKind,
		AcquiredAt:   acquiredAt,
	}
	metaBytes, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(finalPath+".meta.json", metaBytes, 0o644); err != nil {
		return core.StagedFile{}, fmt.Errorf("writing sidecar: %w", err)
	}

	return core.StagedFile{
		Path:       finalPath,
		Kind:       core.SourceKind(declaredKind),
		SizeBytes:  written,
		SHA256:     meta.SHA256,
		SupplierID: supplierID,
		JobID:      job.ID,
		AcquiredAt: acquiredAt,
	}, nil
}
