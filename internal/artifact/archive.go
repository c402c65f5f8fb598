package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// DefaultArchivePrefix is the top-level directory inside the archive.
const DefaultArchivePrefix = "sources"

// Archive zips every regular file under srcDir into zipPath, each stored
// as prefix/<path relative to srcDir>. It returns the number of files added.
func Archive(srcDir, zipPath, prefix string) (int, error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	count := 0
	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if err := addFile(zw, p, path.Join(prefix, filepath.ToSlash(rel))); err != nil {
			return err
		}
		count++
		return nil
	})

	closeErr := zw.Close()
	fileErr := out.Close()
	switch {
	case walkErr != nil:
		return count, fmt.Errorf("failed to archive %s: %w", srcDir, walkErr)
	case closeErr != nil:
		return count, fmt.Errorf("failed to finalize archive: %w", closeErr)
	case fileErr != nil:
		return count, fmt.Errorf("failed to close archive: %w", fileErr)
	}
	return count, nil
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
