package packaging

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
)

// writeCBZ stores the images uncompressed, in order, in a zip archive.
func writeCBZ(images []string, w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, path := range images {
		if err := addToArchive(zw, path); err != nil {
			zw.Close()

			return err
		}
	}

	return zw.Close()
}

func addToArchive(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return imageError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return imageError(path, err)
	}

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(path),
		Method:   zip.Store,
		Modified: info.ModTime(),
	})
	if err != nil {
		return err
	}

	if _, err := io.Copy(entry, f); err != nil {
		return imageError(path, err)
	}

	return nil
}
