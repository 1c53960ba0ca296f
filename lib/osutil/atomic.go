package osutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces the file at path with data. The data is written to a
// temporary file in the same directory which is synced and renamed over path,
// so readers see either the old contents or the new ones, never a mix.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	_, err = tmp.Write(data)
	if err != nil {
		return err
	}
	err = tmp.Chmod(perm)
	if err != nil {
		return err
	}
	err = tmp.Sync()
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	err = os.Rename(tmpName, path)
	if err != nil {
		return err
	}
	committed = true

	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
