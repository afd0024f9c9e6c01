//go:build !linux

package device

import "os"

func adviseSequential(*os.File, int64, int64) {}
