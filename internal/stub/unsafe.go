package stub

import "unsafe"

// wordAt returns a pointer to the 4-byte window b[off:off+4], used solely
// to hand sync/atomic.StoreUint32 a *uint32 aligned to that window, so the
// displacement patch is a single-word atomic store rather than a raw xchg
// instruction.
func wordAt(b []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&b[off])
}
