//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the span is read once, front to back.
// Block devices that reject the hint are read normally.
func adviseSequential(f *os.File, off, n int64) {
	_ = unix.Fadvise(int(f.Fd()), off, n, unix.FADV_SEQUENTIAL)
}
