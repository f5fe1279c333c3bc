package sim

import (
	"fmt"

	"flashcore/internal/sector"
)

// NAND is an in-memory simulated SLC NAND device implementing
// sector.NANDPhysical, used to drive nandtl against deterministic,
// reproducible faults (spec.md section 8, "Testable properties":
// NAND single/double-bit ECC errors, bad-block development, torn
// program/erase).
type NAND struct {
	info  sector.NANDDeviceInfo
	data  [][]byte // data[block] is PagesPerBlock*BytesPerPage bytes
	spare [][]byte // spare[block] is PagesPerBlock*BytesPerSpare bytes
	badHW []bool   // manufacturer/developed-bad, distinct from driver marks in spare
	wp    bool
	fault *Fault
}

// NewNAND allocates an erased (all-0xFF) simulated device of the given
// geometry. fault may be nil, which disables injection entirely.
func NewNAND(info sector.NANDDeviceInfo, fault *Fault) *NAND {
	if fault == nil {
		fault = NewFault(1, FaultConfig{})
		fault.SetMode(ModeNoOp)
	}
	n := &NAND{
		info:  info,
		data:  make([][]byte, info.NumBlocks),
		spare: make([][]byte, info.NumBlocks),
		badHW: make([]bool, info.NumBlocks),
		fault: fault,
	}
	for b := range n.data {
		n.data[b] = blankBytes(int(info.PagesPerBlock) * int(info.BytesPerPage))
		n.spare[b] = blankBytes(int(info.PagesPerBlock) * int(info.BytesPerSpare))
	}
	return n
}

func blankBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// SetWriteProtected toggles the simulated write-protect pin.
func (n *NAND) SetWriteProtected(wp bool) { n.wp = wp }

// MarkHardwareBad force-marks a block as manufacturer/developed bad,
// independent of fault injection, for tests that want a fixed bad-block
// map at mount time.
func (n *NAND) MarkHardwareBad(block uint32) { n.badHW[block] = true }

// Fault exposes the underlying injector so tests can adjust rates or read
// Stats.
func (n *NAND) Fault() *Fault { return n.fault }

func (n *NAND) pageOffsets(pageIdx uint32) (dataOff, spareOff int) {
	dataOff = int(pageIdx) * int(n.info.BytesPerPage)
	spareOff = int(pageIdx) * int(n.info.BytesPerSpare)
	return
}

// ReadEx implements sector.NANDPhysical.
func (n *NAND) ReadEx(block, pageIdx uint32, data, spare []byte) error {
	if block >= n.info.NumBlocks || pageIdx >= n.info.PagesPerBlock {
		return fmt.Errorf("sim: nand read: out of range block=%d page=%d", block, pageIdx)
	}
	if n.badHW[block] {
		return &InjectedError{Op: "read_ex", Msg: fmt.Sprintf("block %d is hardware-bad", block)}
	}
	dataOff, spareOff := n.pageOffsets(pageIdx)
	if data != nil {
		copy(data, n.data[block][dataOff:dataOff+int(n.info.BytesPerPage)])
		n.fault.maybeBitFlip(data)
	}
	if spare != nil {
		copy(spare, n.spare[block][spareOff:spareOff+int(n.info.BytesPerSpare)])
	}
	return nil
}

// WriteEx implements sector.NANDPhysical. It enforces the "program may
// only clear bits" rule (spec.md section 2) by AND-ing new bytes into the
// existing content, and may tear the write per the fault configuration.
func (n *NAND) WriteEx(block, pageIdx uint32, data, spare []byte) error {
	if n.wp {
		return &InjectedError{Op: "write_ex", Msg: "device is write protected"}
	}
	if block >= n.info.NumBlocks || pageIdx >= n.info.PagesPerBlock {
		return fmt.Errorf("sim: nand write: out of range block=%d page=%d", block, pageIdx)
	}
	if n.badHW[block] {
		return &InjectedError{Op: "write_ex", Msg: fmt.Sprintf("block %d is hardware-bad", block)}
	}
	dataOff, spareOff := n.pageOffsets(pageIdx)

	if data != nil {
		torn, landed := n.fault.maybeTearProgram(len(data))
		dst := n.data[block][dataOff : dataOff+int(n.info.BytesPerPage)]
		programInto(dst, data, landed)
		if torn {
			return &InjectedError{Op: "write_ex", Msg: fmt.Sprintf("torn program, %d/%d bytes landed", landed, len(data))}
		}
	}
	if spare != nil {
		dst := n.spare[block][spareOff : spareOff+int(n.info.BytesPerSpare)]
		programInto(dst, spare, len(spare))
	}
	return nil
}

// programInto applies NAND's AND-only programming semantics for the
// first n bytes of src into dst, leaving the remainder of dst untouched
// (modeling a program operation that lost power after n bytes).
func programInto(dst, src []byte, n int) {
	for i := 0; i < n && i < len(dst) && i < len(src); i++ {
		dst[i] &= src[i]
	}
}

// EraseBlock implements sector.NANDPhysical.
func (n *NAND) EraseBlock(block uint32) error {
	if n.wp {
		return &InjectedError{Op: "erase_block", Msg: "device is write protected"}
	}
	if block >= n.info.NumBlocks {
		return fmt.Errorf("sim: nand erase: out of range block=%d", block)
	}
	if n.badHW[block] {
		return &InjectedError{Op: "erase_block", Msg: fmt.Sprintf("block %d is hardware-bad", block)}
	}
	if n.fault.maybeTearErase() {
		// A torn erase leaves neither the prior content nor a clean
		// erased state: half the block clears, half doesn't.
		half := len(n.data[block]) / 2
		for i := half; i < len(n.data[block]); i++ {
			n.data[block][i] = 0xFF
		}
		for i := range n.spare[block] {
			n.spare[block][i] = 0xFF
		}
		return &InjectedError{Op: "erase_block", Msg: fmt.Sprintf("torn erase of block %d", block)}
	}
	for i := range n.data[block] {
		n.data[block][i] = 0xFF
	}
	for i := range n.spare[block] {
		n.spare[block][i] = 0xFF
	}
	if n.fault.maybeDevelopBadBlock() {
		n.badHW[block] = true
	}
	return nil
}

// GetDeviceInfo implements sector.NANDPhysical.
func (n *NAND) GetDeviceInfo() sector.NANDDeviceInfo { return n.info }

// IsWriteProtected implements sector.NANDPhysical.
func (n *NAND) IsWriteProtected() bool { return n.wp }

var _ sector.NANDPhysical = (*NAND)(nil)
