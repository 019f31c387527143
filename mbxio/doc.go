// Package mbxio has small io helpers used by the mailbox store: readers over
// io.ReaderAt, size limits, a scratch buffer pool and durable file operations.
package mbxio

import (
	"github.com/mjl-/mboxstore/mlog"
)

var xlog = mlog.New("mbxio")
