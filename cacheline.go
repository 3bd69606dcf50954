package scalemap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is the padding unit used to keep ConcurrentMap's published
// table reference on its own cache line, away from the writer lock.
// It's taken from `golang.org/x/sys/cpu` for the target architecture.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
