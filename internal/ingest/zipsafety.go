package ingest

import (
	"archive/zip"
	"strings"

	"github.com/basket/chatvault/internal/config"
	"github.com/basket/chatvault/internal/errcode"
)

// PreScan validates an archive against the configured limits using central
// directory metadata only. It is atomic: no entry may be extracted unless
// the whole archive passes. The traversal check runs on the raw header
// name; normalizing first would resolve the ".." and defeat the check.
func PreScan(r *zip.Reader, limits config.ZipLimits) error {
	if len(r.File) > limits.MaxEntries {
		return errcode.Newf(errcode.ZipTooManyEntries, "%d entries exceeds limit %d", len(r.File), limits.MaxEntries)
	}

	var total uint64
	for _, f := range r.File {
		if err := checkEntryName(f.Name); err != nil {
			return err
		}
		if isDirEntry(f) {
			continue
		}

		uncompressed := f.UncompressedSize64
		compressed := f.CompressedSize64
		if uncompressed > uint64(limits.MaxSingleFileBytes) {
			return errcode.Newf(errcode.ZipEntryTooLarge, "entry %q declares %d uncompressed bytes (limit %d)",
				f.Name, uncompressed, limits.MaxSingleFileBytes)
		}
		if compressed > 0 && uncompressed/compressed > uint64(limits.MaxRatio) {
			return errcode.Newf(errcode.ZipCorrupt, "entry %q compression ratio %d exceeds limit %d",
				f.Name, uncompressed/compressed, limits.MaxRatio)
		}
		total += uncompressed
		if total > uint64(limits.MaxTotalBytes) {
			return errcode.Newf(errcode.ZipTotalTooLarge, "declared total %d exceeds limit %d", total, limits.MaxTotalBytes)
		}
	}
	return nil
}

// checkEntryName rejects absolute entry names and any ".." path component,
// splitting on both separator conventions.
func checkEntryName(name string) error {
	if name == "" {
		return nil
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return errcode.Newf(errcode.ZipSlipDetected, "absolute entry name %q", name)
	}
	if len(name) >= 2 && name[1] == ':' {
		return errcode.Newf(errcode.ZipSlipDetected, "drive-prefixed entry name %q", name)
	}
	components := strings.FieldsFunc(name, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, c := range components {
		if c == ".." {
			return errcode.Newf(errcode.ZipSlipDetected, "entry name %q escapes the extraction root", name)
		}
	}
	return nil
}

func isDirEntry(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || strings.HasSuffix(f.Name, "\\") || f.FileInfo().IsDir()
}
