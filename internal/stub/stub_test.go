package stub

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegionLayoutIsFallthroughTemplate(t *testing.T) {
	r := NewRegion(3)
	require.Len(t, r.Bytes(), 3*StubSize)
	for i := 0; i < 3; i++ {
		off := i * StubSize
		require.Equal(t, byte(jmpOpcode), r.Bytes()[off])
		require.Equal(t, uint32(0), binary.LittleEndian.Uint32(r.Bytes()[off+1:off+5]))
		require.Equal(t, byte(callOpcode), r.Bytes()[off+5])
	}
}

func TestPatchJumpTargetRewritesDisplacement(t *testing.T) {
	r := NewRegion(2)
	base := int64(0x1000)
	r.PatchJumpTarget(1, 0x2000, base)

	off := StubEntryOffset(1)
	disp := int32(binary.LittleEndian.Uint32(r.Bytes()[off+1 : off+5]))
	jumpSiteAddr := base + int64(off) + 5
	require.Equal(t, int64(0x2000), jumpSiteAddr+int64(disp))
}

func TestSetResolverTargetPatchesEveryStub(t *testing.T) {
	r := NewRegion(4)
	base := int64(0x4000)
	r.SetResolverTarget(0x8000, base)
	for i := 0; i < 4; i++ {
		off := StubEntryOffset(i)
		disp := int32(binary.LittleEndian.Uint32(r.Bytes()[off+6 : off+10]))
		callSiteAddr := base + int64(off) + 10
		require.Equal(t, int64(0x8000), callSiteAddr+int64(disp))
	}
}
