package pipeline

import (
	"fmt"
	"path/filepath"

	"completiond/internal/common/fsutil"
)

// maxDeviceNodes bounds the /dev/nvidiaN scan.
const maxDeviceNodes = 16

// DevRoot is the directory scanned for accelerator device nodes.
// Tests point it at a temp dir.
var DevRoot = "/dev"

// CountCUDADevices counts contiguous /dev/nvidia<N> device nodes. It is a
// cheap presence check used by the llama runtimes, which have no driver API
// of their own to ask.
func CountCUDADevices() int {
	n := 0
	for i := 0; i < maxDeviceNodes; i++ {
		if !fsutil.PathExists(filepath.Join(DevRoot, fmt.Sprintf("nvidia%d", i))) {
			break
		}
		n++
	}
	return n
}
