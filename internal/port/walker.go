package port

// FileWalker lists the candidate source images under a directory.
type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

// FileInfo describes one source image. Path doubles as the record identifier.
type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}
