//go:build !windows

package mbxio

import (
	"fmt"
	"os"

	"github.com/mjl-/mboxstore/mlog"
)

// SyncDir opens a directory and syncs its contents to disk. Needed after
// renaming a file into place, for the rename itself to be durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %v", err)
	}
	err = d.Sync()
	xerr := d.Close()
	xlog.Check(xerr, "closing directory after sync", mlog.Field("dir", dir))
	return err
}
