package header_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcore/internal/header"
)

func blankSpare(largePage bool) header.NANDSpare {
	s := header.NANDSpare{LargePage: largePage}
	for i := range s.Raw {
		s.Raw[i] = 0xFF
	}
	return s
}

func Test_NANDSpare_BadBlockMarker_Offset_Depends_On_PageSize(t *testing.T) {
	t.Parallel()

	small := blankSpare(false)
	large := blankSpare(true)

	assert.Equal(t, 5, small.BBMOffset())
	assert.Equal(t, 0, large.BBMOffset())
}

func Test_NANDSpare_MarkBadBlock_Sets_Marker(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	assert.False(t, s.IsBadBlockMarked())

	s.MarkBadBlock()

	assert.True(t, s.IsBadBlockMarked())
}

func Test_NANDSpare_DataStatus_Round_Trips_Without_Setting_Bits(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	s.SetDataStatus(header.DataStatusWork)
	s.SetDataCount(0x3)

	assert.Equal(t, header.DataStatusWork, s.DataStatus())
	assert.Equal(t, byte(0x3), s.DataCount())

	s.SetDataStatus(header.DataStatusValid)
	assert.Equal(t, header.DataStatusValid, s.DataStatus())
	assert.Equal(t, byte(0x3), s.DataCount(), "changing status must not disturb the count nibble")
}

func Test_NANDSpare_LBI_Detects_Inconsistent_Redundant_Copy(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	s.SetLBI(42)

	lbi, consistent := s.LBI()
	assert.Equal(t, uint16(42), lbi)
	assert.True(t, consistent)

	s.Raw[0x11] ^= 0xFF // corrupt only the redundant copy

	_, consistent = s.LBI()
	assert.False(t, consistent)
}

func Test_NANDSpare_BRSI_Stored_Inverted(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	s.SetBRSI(5)

	brsi, consistent := s.BRSI()
	assert.Equal(t, uint16(5), brsi)
	assert.True(t, consistent)
}

func Test_NANDSpare_ECC_Round_Trips_Each_SubBlock(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	for i := 0; i < header.NumECCSubBlocks; i++ {
		ecc := [3]byte{byte(i), byte(i + 1), byte(i + 2)}
		s.SetECC(i, ecc)
		assert.Equal(t, ecc, s.ECC(i))
	}
}

func Test_NANDSpare_SectorFree_Flags(t *testing.T) {
	t.Parallel()

	s := blankSpare(true)
	assert.True(t, s.IsSectorFree())
	s.SetSectorFree(false)
	assert.False(t, s.IsSectorFree())

	assert.True(t, s.IsBRSIZeroFree())
	s.SetBRSIZeroFree(false)
	assert.False(t, s.IsBRSIZeroFree())
}

func Test_NORPhysicalSectorHeader_Marshal_Round_Trip(t *testing.T) {
	t.Parallel()

	h := &header.NORPhysicalSectorHeader{
		Signature:      byte(header.NORSignatureCurrent),
		FormatVersion:  1,
		FailSafeErase:  0x00,
		Type:           byte(header.NORSectorData),
		EraseCount:     7,
		EraseSignature: [4]byte{'E', 'R', 'S', 'D'},
	}

	raw, err := h.MarshalBinary()
	require.NoError(t, err)

	var got header.NORPhysicalSectorHeader
	require.NoError(t, got.UnmarshalBinary(raw))

	assert.Equal(t, *h, got)
	assert.True(t, got.SupportsFailSafeErase())
	assert.True(t, got.EraseCompleted())
}

func Test_NORPhysicalSectorHeader_Erase_Not_Completed_Without_Signature(t *testing.T) {
	t.Parallel()

	h := &header.NORPhysicalSectorHeader{FailSafeErase: 0xFF}

	assert.False(t, h.SupportsFailSafeErase())
	assert.False(t, h.EraseCompleted())
}

func Test_FormatInfo_Marshal_Round_Trip(t *testing.T) {
	t.Parallel()

	f := &header.FormatInfo{
		Signature:         [8]byte{'f', 'l', 'a', 's', 'h', 'c', 'o', 'r'},
		VersionMajor:      1,
		VersionMinor:      0,
		VersionRevision:   0,
		LogicalSectorCnt:  1024,
		LogicalSectorSize: 512,
		ErrorState:        0,
	}

	raw, err := f.MarshalBinary()
	require.NoError(t, err)

	var got header.FormatInfo
	require.NoError(t, got.UnmarshalBinary(raw))
	if diff := cmp.Diff(*f, got); diff != "" {
		t.Errorf("FormatInfo round trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_JournalStatus_Marshal_Round_Trip(t *testing.T) {
	t.Parallel()

	s := &header.JournalStatus{
		NumSectorsData:     100,
		BytesPerSector:     512,
		PBIInfoSector:      1,
		PBIStatusSector:    2,
		PBIStartSectorList: 3,
		PBIFirstDataSector: 4,
		SectorCnt:          5,
		SectorCntTotal:     6,
		OpenCnt:            1,
		Error:              0,
		IsPresent:          1,
	}

	raw, err := s.MarshalBinary()
	require.NoError(t, err)

	var got header.JournalStatus
	require.NoError(t, got.UnmarshalBinary(raw))
	if diff := cmp.Diff(*s, got); diff != "" {
		t.Errorf("JournalStatus round trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_JournalEntry_Marshal_Round_Trip(t *testing.T) {
	t.Parallel()

	e := &header.JournalEntry{SectorIndex: 10, TrimFlag: 1, RunLength: 3}

	raw, err := e.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, header.JournalEntrySize)

	var got header.JournalEntry
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, *e, got)
}
