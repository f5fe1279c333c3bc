package sim

import (
	"fmt"

	"flashcore/internal/sector"
)

// NOR is an in-memory simulated NOR device implementing
// sector.NORPhysical, with the same fault-injection hooks as NAND:
// torn programs, torn erases, and (rarely) a sector that silently stops
// accepting further program/erase operations.
type NOR struct {
	sectorSize uint32
	mem        []byte
	badHW      []bool
	wp         bool
	fault      *Fault
}

// NewNOR allocates an erased (all-0xFF) simulated NOR device of
// numSectors uniform physical sectors of sectorSize bytes each.
func NewNOR(numSectors int, sectorSize uint32, fault *Fault) *NOR {
	if fault == nil {
		fault = NewFault(1, FaultConfig{})
		fault.SetMode(ModeNoOp)
	}
	mem := blankBytes(numSectors * int(sectorSize))
	return &NOR{
		sectorSize: sectorSize,
		mem:        mem,
		badHW:      make([]bool, numSectors),
		fault:      fault,
	}
}

// SetWriteProtected toggles the simulated write-protect pin.
func (n *NOR) SetWriteProtected(wp bool) { n.wp = wp }

// MarkHardwareBad force-marks a physical sector as bad.
func (n *NOR) MarkHardwareBad(sectorIndex int) { n.badHW[sectorIndex] = true }

// Fault exposes the underlying injector so tests can adjust rates or read
// Stats.
func (n *NOR) Fault() *Fault { return n.fault }

func (n *NOR) sectorBounds(sectorIndex int) (start, end int) {
	start = sectorIndex * int(n.sectorSize)
	end = start + int(n.sectorSize)
	return
}

// ReadOff implements sector.NORPhysical.
func (n *NOR) ReadOff(off int64, dst []byte) error {
	if off < 0 || off+int64(len(dst)) > int64(len(n.mem)) {
		return fmt.Errorf("sim: nor read: out of range off=%d len=%d", off, len(dst))
	}
	copy(dst, n.mem[off:int(off)+len(dst)])
	n.fault.maybeBitFlip(dst)
	return nil
}

// ProgramOff implements sector.NORPhysical, enforcing the
// clear-bits-only rule and applying any configured torn-program fault.
func (n *NOR) ProgramOff(off int64, data []byte) error {
	if n.wp {
		return &InjectedError{Op: "program_off", Msg: "device is write protected"}
	}
	if off < 0 || off+int64(len(data)) > int64(len(n.mem)) {
		return fmt.Errorf("sim: nor program: out of range off=%d len=%d", off, len(data))
	}
	if n.badHW[n.sectorIndexForOffset(off)] {
		return &InjectedError{Op: "program_off", Msg: "sector is hardware-bad"}
	}
	torn, landed := n.fault.maybeTearProgram(len(data))
	dst := n.mem[off : int(off)+len(data)]
	programInto(dst, data, landed)
	if torn {
		return &InjectedError{Op: "program_off", Msg: fmt.Sprintf("torn program, %d/%d bytes landed", landed, len(data))}
	}
	return nil
}

func (n *NOR) sectorIndexForOffset(off int64) int {
	return int(off / int64(n.sectorSize))
}

// EraseSector implements sector.NORPhysical.
func (n *NOR) EraseSector(sectorIndex int) error {
	if n.wp {
		return &InjectedError{Op: "erase_sector", Msg: "device is write protected"}
	}
	if sectorIndex < 0 || sectorIndex >= len(n.badHW) {
		return fmt.Errorf("sim: nor erase: out of range sector=%d", sectorIndex)
	}
	if n.badHW[sectorIndex] {
		return &InjectedError{Op: "erase_sector", Msg: "sector is hardware-bad"}
	}
	start, end := n.sectorBounds(sectorIndex)
	if n.fault.maybeTearErase() {
		half := start + (end-start)/2
		for i := half; i < end; i++ {
			n.mem[i] = 0xFF
		}
		return &InjectedError{Op: "erase_sector", Msg: fmt.Sprintf("torn erase of sector %d", sectorIndex)}
	}
	for i := start; i < end; i++ {
		n.mem[i] = 0xFF
	}
	if n.fault.maybeDevelopBadBlock() {
		n.badHW[sectorIndex] = true
	}
	return nil
}

// GetSectorInfo implements sector.NORPhysical.
func (n *NOR) GetSectorInfo(sectorIndex int) (sector.NORSectorInfo, error) {
	if sectorIndex < 0 || sectorIndex >= len(n.badHW) {
		return sector.NORSectorInfo{}, fmt.Errorf("sim: nor sector info: out of range sector=%d", sectorIndex)
	}
	start, _ := n.sectorBounds(sectorIndex)
	return sector.NORSectorInfo{Offset: int64(start), Size: n.sectorSize}, nil
}

// GetNumSectors implements sector.NORPhysical.
func (n *NOR) GetNumSectors() int { return len(n.badHW) }

// IsWriteProtected implements sector.NORPhysical.
func (n *NOR) IsWriteProtected() bool { return n.wp }

var _ sector.NORPhysical = (*NOR)(nil)
