// Package workdir moves module trees in and out of tar.gz archives.
//
// Dissection sessions run against an in-memory filesystem populated from an
// archive supplied by the client, so nothing a session loads touches the
// host's disk.
package workdir

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

const (
	// DirPermission is the mode of directories created during extraction
	DirPermission = 0o755
	// FilePermission is the mode of files created during extraction
	FilePermission = 0o644
	// BytesPerMB converts size limits given in megabytes
	BytesPerMB = 1024 * 1024
)

// ErrTooLarge is returned when an archive expands beyond the configured limit
var ErrTooLarge = errors.New("archive exceeds size limit")

// Extract unpacks tar.gz data into destDir of fs. maxBytes limits the total size
// of extracted files; zero means no limit.
func Extract(fs afero.Fs, tarData []byte, destDir string, maxBytes int64) error {
	gzipReader, err := gzip.NewReader(bytes.NewReader(tarData))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	destDir = filepath.Clean(destDir)
	if err := fs.MkdirAll(destDir, DirPermission); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tarReader := tar.NewReader(gzipReader)
	var total int64

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		// Prevent absolute paths
		if filepath.IsAbs(header.Name) {
			return fmt.Errorf("absolute path not allowed in tar: %s", header.Name)
		}

		// Reject directory traversal
		cleanName := filepath.Clean(header.Name)
		if cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(filepath.Separator)) {
			return fmt.Errorf("unsafe relative path in tar: %s", header.Name)
		}

		filePath := filepath.Join(destDir, cleanName)
		if filePath != destDir && !strings.HasPrefix(filePath, destDir+string(filepath.Separator)) {
			return fmt.Errorf("invalid file path in tar: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(filePath, DirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			total += header.Size
			if maxBytes > 0 && total > maxBytes {
				return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
			}

			if err := fs.MkdirAll(filepath.Dir(filePath), DirPermission); err != nil {
				return fmt.Errorf("failed to create parent directories: %w", err)
			}

			if err := writeFile(fs, filePath, tarReader, header.Size); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported file type in tar: %c", header.Typeflag)
		}
	}

	return nil
}

// writeFile streams size bytes of r into name so a forged header size is never allocated up front
func writeFile(fs afero.Fs, name string, r io.Reader, size int64) error {
	f, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermission)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to read file content: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Archive packs the tree under srcDir of fs into tar.gz data. Entry names are relative to srcDir.
func Archive(fs afero.Fs, srcDir string) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	err := afero.Walk(fs, srcDir, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, file)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if fi.IsDir() {
			return nil
		}

		data, err := fs.Open(file)
		if err != nil {
			return err
		}
		defer data.Close()

		_, err = io.Copy(tarWriter, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
