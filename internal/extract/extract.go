// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package extract safely unpacks a driver package archive into a staging
// directory. Every entry path is resolved against the destination and the
// whole operation is rejected if any entry would escape it.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
)

// KeepStagingEnv, when set to a non-empty value, suppresses removal of
// the staging directory after a failed extraction so the partial contents
// can be inspected. It must never default on.
const KeepStagingEnv = "EPRINTY_KEEP_STAGING"

const (
	smallBufferSize = 32 * 1024
	largeBufferSize = 1024 * 1024
	// Entries at or above this uncompressed size stream through the large buffer.
	largeEntryThreshold = 8 * 1024 * 1024
)

var (
	// ErrOpenArchive is returned when the archive cannot be opened.
	ErrOpenArchive = errors.New("failed to open archive")
	// ErrCorruptArchive is returned when the archive is not a valid zip.
	ErrCorruptArchive = errors.New("corrupt or unsupported archive format")
	// ErrPathTraversal is returned when an entry resolves outside the
	// destination directory.
	ErrPathTraversal = errors.New("archive entry escapes destination directory")
	// ErrIO is returned for read/write failures during extraction.
	ErrIO = errors.New("i/o error during extraction")
	// ErrPermission is returned when the destination cannot be written.
	ErrPermission = errors.New("permission denied writing to destination")
	// ErrCanceled is returned when extraction is canceled between entries.
	ErrCanceled = errors.New("extraction canceled")
)

// Options tunes a single extraction.
type Options struct {
	// Fs is the filesystem the destination is written to.
	// Defaults to the OS filesystem.
	Fs afero.Fs
	// OnProgress, if set, is called after each completed entry with the
	// number of entries done and the total entry count.
	OnProgress func(done, total int)
	// KeepStagingOnFailure suppresses cleanup of the destination after a
	// failed extraction. The EPRINTY_KEEP_STAGING environment variable
	// forces this on regardless.
	KeepStagingOnFailure bool

	lookupEnv func(string) string
}

// Report summarizes a completed extraction.
type Report struct {
	FilesExtracted int
	DirsCreated    int
	BytesWritten   int64
	Elapsed        time.Duration
}

// Extract unpacks the zip archive at archivePath into destDir.
// Cancellation is cooperative and checked between entries. On failure the
// destination directory is removed unless the diagnostics override is
// active.
func Extract(ctx context.Context, archivePath, destDir string, opts *Options) (*Report, error) {
	if opts == nil {
		opts = &Options{}
	}

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	report, err := extract(ctx, fsys, archivePath, destDir, opts)
	if err != nil {
		return nil, errors.Join(err, cleanupStaging(ctx, fsys, destDir, opts))
	}

	return report, nil
}

func extract(ctx context.Context, fsys afero.Fs, archivePath, destDir string, opts *Options) (*Report, error) {
	start := time.Now()

	f, err := fsys.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenArchive, archivePath, err)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenArchive, archivePath, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArchive, archivePath, err)
	}

	if err := fsys.MkdirAll(destDir, 0o755); err != nil {
		return nil, classifyWriteErr(err, archivePath, destDir, "")
	}

	report := &Report{}
	total := len(zr.File)

	for done, entry := range zr.File {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: archive %s after %d/%d entries", ErrCanceled, archivePath, done, total)
		default:
		}

		if err := extractEntry(fsys, entry, archivePath, destDir, report); err != nil {
			return nil, err
		}

		if opts.OnProgress != nil {
			opts.OnProgress(done+1, total)
		}
	}

	report.Elapsed = time.Since(start)

	return report, nil
}

func extractEntry(fsys afero.Fs, entry *zip.File, archivePath, destDir string, report *Report) error {
	target, err := resolveEntryPath(destDir, entry.Name)
	if err != nil {
		return fmt.Errorf("%w: entry %q in archive %s, destination %s", err, entry.Name, archivePath, destDir)
	}

	if entry.FileInfo().IsDir() {
		if err := fsys.MkdirAll(target, 0o755); err != nil {
			return classifyWriteErr(err, archivePath, destDir, entry.Name)
		}

		report.DirsCreated++

		return nil
	}

	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return classifyWriteErr(err, archivePath, destDir, entry.Name)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: entry %q in archive %s: %w", ErrCorruptArchive, entry.Name, archivePath, err)
	}
	defer rc.Close() //nolint:errcheck

	out, err := fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode().Perm()|0o200)
	if err != nil {
		return classifyWriteErr(err, archivePath, destDir, entry.Name)
	}

	n, err := io.CopyBuffer(out, rc, make([]byte, bufferSizeFor(entry.UncompressedSize64)))

	cerr := out.Close()

	report.BytesWritten += n

	if err != nil {
		return classifyWriteErr(err, archivePath, destDir, entry.Name)
	}

	if cerr != nil {
		return classifyWriteErr(cerr, archivePath, destDir, entry.Name)
	}

	report.FilesExtracted++

	return nil
}

// resolveEntryPath resolves an archive entry name under destDir, rejecting
// absolute paths and any path that escapes the destination.
func resolveEntryPath(destDir, name string) (string, error) {
	if name == "" {
		return "", ErrPathTraversal
	}

	cleaned := filepath.FromSlash(name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	destClean := filepath.Clean(destDir)
	target := filepath.Join(destClean, cleaned)

	if target != destClean && !strings.HasPrefix(target, destClean+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return target, nil
}

// bufferSizeFor picks a copy buffer bounded for arbitrarily large
// archives: small entries use a small buffer, large entries a capped one.
func bufferSizeFor(uncompressed uint64) int {
	if uncompressed >= largeEntryThreshold {
		return largeBufferSize
	}

	if uncompressed > 0 && uncompressed < smallBufferSize {
		return int(uncompressed)
	}

	return smallBufferSize
}

func classifyWriteErr(err error, archivePath, destDir, entry string) error {
	kind := ErrIO
	if errors.Is(err, fs.ErrPermission) {
		kind = ErrPermission
	}

	if entry == "" {
		return fmt.Errorf("%w: archive %s, destination %s: %w", kind, archivePath, destDir, err)
	}

	return fmt.Errorf("%w: entry %q in archive %s, destination %s: %w", kind, entry, archivePath, destDir, err)
}

// cleanupStaging removes the staging directory after a failed extraction
// unless the diagnostics override is active.
func cleanupStaging(ctx context.Context, fsys afero.Fs, destDir string, opts *Options) error {
	if keepStaging(opts) {
		ctxlog.Warn(ctx, "extraction failed, keeping staging directory for diagnostics", "dir", destDir)
		return nil
	}

	var errs *multierror.Error

	if err := fsys.RemoveAll(destDir); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to remove staging directory %s: %w", destDir, err))
	}

	return errs.ErrorOrNil()
}

func keepStaging(opts *Options) bool {
	if opts.KeepStagingOnFailure {
		return true
	}

	lookup := opts.lookupEnv
	if lookup == nil {
		lookup = osGetenv
	}

	return lookup(KeepStagingEnv) != ""
}

func osGetenv(key string) string {
	return os.Getenv(key)
}
