package storage

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"
)

// Local stores uploads in a directory on disk.
type Local struct {
    dir string
}

func NewLocal(dir string) (*Local, error) {
    if dir == "" { dir = "uploads" }
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, fmt.Errorf("create upload dir: %w", err) }
    return &Local{dir: dir}, nil
}

func (l *Local) Dir() string { return l.dir }

// Save writes r to <dir>/<id>_<name> and returns the path. Rasters for the
// document are later written next to it.
func (l *Local) Save(id, name string, r io.Reader) (string, error) {
    p := filepath.Join(l.dir, fmt.Sprintf("%s_%s", id, SanitizeName(name)))
    f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
    if err != nil { return "", err }
    if _, err := io.Copy(f, r); err != nil {
        f.Close()
        os.Remove(p)
        return "", err
    }
    if err := f.Close(); err != nil { os.Remove(p); return "", err }
    return p, nil
}

// Remove deletes a stored upload; a missing file is not an error.
func (l *Local) Remove(p string) error {
    if err := os.Remove(p); err != nil && !os.IsNotExist(err) { return err }
    return nil
}

// SanitizeName keeps the base name and replaces characters that are awkward in paths.
func SanitizeName(name string) string {
    name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
    if name == "." || name == "/" || name == "" { return "upload" }
    return strings.Map(func(r rune) rune {
        switch {
        case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
            return r
        case r == '.', r == '-', r == '_':
            return r
        }
        return '_'
    }, name)
}
