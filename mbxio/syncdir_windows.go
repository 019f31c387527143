package mbxio

// SyncDir is a no-op on Windows, directories cannot be synced there.
func SyncDir(dir string) error {
	return nil
}
