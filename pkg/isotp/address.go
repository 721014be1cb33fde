package isotp

import (
	"fmt"
	"strings"

	"github.com/roffe/curf"
)

type AddressingMode int

const (
	Normal11bits AddressingMode = iota
	Normal29bits
	NormalFixed29bits
	Extended11bits
	Extended29bits
	Mixed11bits
	Mixed29bits
)

var modeNames = [...]string{
	"Normal_11bits",
	"Normal_29bits",
	"NormalFixed_29bits",
	"Extended_11bits",
	"Extended_29bits",
	"Mixed_11bits",
	"Mixed_29bits",
}

func (m AddressingMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("AddressingMode(%d)", int(m))
	}
	return modeNames[m]
}

func (m AddressingMode) Is29Bits() bool {
	switch m {
	case Normal29bits, NormalFixed29bits, Extended29bits, Mixed29bits:
		return true
	}
	return false
}

// ParseAddressingMode accepts the mode names such as Normal_11bits or Mixed_29bits
func ParseAddressingMode(s string) (AddressingMode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(n, s) {
			return AddressingMode(i), nil
		}
	}
	return 0, &curf.ConfigurationError{
		Field:  "addressing mode",
		Value:  s,
		Reason: "must be one of " + strings.Join(modeNames[:], ", "),
	}
}

type TargetAddressType int

const (
	Physical TargetAddressType = iota
	Functional
)

func (t TargetAddressType) String() string {
	if t == Functional {
		return "Functional"
	}
	return "Physical"
}

func ParseTargetAddressType(s string) (TargetAddressType, error) {
	switch strings.ToLower(s) {
	case "physical", "":
		return Physical, nil
	case "functional":
		return Functional, nil
	}
	return 0, &curf.ConfigurationError{Field: "addressing type", Value: s, Reason: "must be Physical or Functional"}
}

// AddressConfig holds the parameters of an address, which ones are required depends on
// the addressing mode. Zero means unset.
type AddressConfig struct {
	TxID             uint32
	RxID             uint32
	TargetAddress    byte
	SourceAddress    byte
	AddressExtension byte
}

type Address struct {
	mode AddressingMode
	cfg  AddressConfig

	// bits 28..16 of the identifiers for the fixed and mixed 29 bit modes
	physicalID   uint32
	functionalID uint32

	txPrefix     []byte
	rxPrefixSize int
}

func NewAddress(mode AddressingMode, cfg AddressConfig) (*Address, error) {
	a := &Address{mode: mode, cfg: cfg}
	switch mode {
	case NormalFixed29bits:
		a.physicalID, a.functionalID = 0x18DA0000, 0x18DB0000
	case Mixed29bits:
		a.physicalID, a.functionalID = 0x18CE0000, 0x18CD0000
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	switch mode {
	case Extended11bits, Extended29bits:
		a.txPrefix = []byte{cfg.TargetAddress}
		a.rxPrefixSize = 1
	case Mixed11bits, Mixed29bits:
		a.txPrefix = []byte{cfg.AddressExtension}
		a.rxPrefixSize = 1
	}
	return a, nil
}

const (
	mixedAddressExtension = 0x99
	extendedSourceAddress = 0x55
	extendedTargetAddress = 0xAA
)

// AddressFor builds the address used by a tester talking from source to destination.
// Mixed modes use address extension 0x99 and extended modes source 0x55 and target 0xAA.
func AddressFor(mode AddressingMode, source, destination uint32) (*Address, error) {
	switch mode {
	case Normal11bits, Normal29bits:
		return NewAddress(mode, AddressConfig{TxID: source, RxID: destination})
	case Mixed11bits:
		return NewAddress(mode, AddressConfig{TxID: source, RxID: destination, AddressExtension: mixedAddressExtension})
	case Mixed29bits:
		return NewAddress(mode, AddressConfig{SourceAddress: byte(source), TargetAddress: byte(destination), AddressExtension: mixedAddressExtension})
	case NormalFixed29bits:
		return NewAddress(mode, AddressConfig{SourceAddress: byte(source), TargetAddress: byte(destination)})
	case Extended11bits, Extended29bits:
		return NewAddress(mode, AddressConfig{
			TxID:          source,
			RxID:          destination,
			SourceAddress: extendedSourceAddress,
			TargetAddress: extendedTargetAddress,
		})
	}
	return nil, &curf.ConfigurationError{Field: "addressing mode", Value: mode.String()}
}

func (a *Address) validate() error {
	fail := func(reason string) error {
		return &curf.ConfigurationError{Field: "address", Value: a.mode.String(), Reason: reason}
	}
	c := a.cfg
	switch a.mode {
	case Normal11bits, Normal29bits:
		if c.RxID == 0 || c.TxID == 0 {
			return fail("txid and rxid must be specified")
		}
	case NormalFixed29bits:
		if c.TargetAddress == 0 && c.SourceAddress == 0 {
			return fail("target_address and source_address must be specified")
		}
	case Extended11bits, Extended29bits:
		if c.TargetAddress == 0 || c.TxID == 0 || c.SourceAddress == 0 || c.RxID == 0 {
			return fail("txid, rxid, target_address and source_address must be specified")
		}
	case Mixed11bits:
		if c.AddressExtension == 0 || c.RxID == 0 || c.TxID == 0 {
			return fail("txid, rxid and address_extension must be specified")
		}
	case Mixed29bits:
		if c.TargetAddress == 0 || c.SourceAddress == 0 || c.AddressExtension == 0 {
			return fail("target_address, source_address and address_extension must be specified")
		}
	default:
		return fail("unknown addressing mode")
	}
	switch a.mode {
	case Normal11bits, Normal29bits, Extended11bits, Extended29bits, Mixed11bits:
		if c.RxID == c.TxID {
			return fail("txid and rxid must be different")
		}
	}
	limit := uint32(0x1FFFFFFF)
	if !a.mode.Is29Bits() {
		limit = 0x7FF
	}
	if c.TxID > limit || c.RxID > limit {
		return fail(fmt.Sprintf("identifiers must not exceed 0x%X", limit))
	}
	return nil
}

func (a *Address) Mode() AddressingMode {
	return a.mode
}

func (a *Address) Is29Bits() bool {
	return a.mode.Is29Bits()
}

// TxArbitrationID returns the identifier used to send with the given addressing type
func (a *Address) TxArbitrationID(t TargetAddressType) uint32 {
	switch a.mode {
	case Mixed29bits, NormalFixed29bits:
		base := a.physicalID
		if t == Functional {
			base = a.functionalID
		}
		return base | uint32(a.cfg.TargetAddress)<<8 | uint32(a.cfg.SourceAddress)
	default:
		return a.cfg.TxID
	}
}

// RxArbitrationIDs returns every identifier the address may receive on
func (a *Address) RxArbitrationIDs() []uint32 {
	switch a.mode {
	case Mixed29bits, NormalFixed29bits:
		id := uint32(a.cfg.SourceAddress)<<8 | uint32(a.cfg.TargetAddress)
		return []uint32{a.physicalID | id, a.functionalID | id}
	default:
		return []uint32{a.cfg.RxID}
	}
}

func (a *Address) TxPrefix() []byte {
	return a.txPrefix
}

func (a *Address) RxPrefixSize() int {
	return a.rxPrefixSize
}

// IsForMe reports whether frame is addressed to this address
func (a *Address) IsForMe(frame *curf.CANFrame) bool {
	switch a.mode {
	case Normal11bits, Normal29bits:
		return frame.Identifier == a.cfg.RxID
	case Extended11bits, Extended29bits:
		return frame.Identifier == a.cfg.RxID && len(frame.Data) > 0 && frame.Data[0] == a.cfg.SourceAddress
	case Mixed11bits:
		return frame.Identifier == a.cfg.RxID && len(frame.Data) > 0 && frame.Data[0] == a.cfg.AddressExtension
	case NormalFixed29bits, Mixed29bits:
		base := frame.Identifier & 0x1FFF0000
		if base != a.physicalID && base != a.functionalID {
			return false
		}
		if byte(frame.Identifier>>8) != a.cfg.SourceAddress || byte(frame.Identifier) != a.cfg.TargetAddress {
			return false
		}
		if a.mode == Mixed29bits {
			return len(frame.Data) > 0 && frame.Data[0] == a.cfg.AddressExtension
		}
		return true
	}
	return false
}

// Reverse returns the address of the peer, used to emulate an ECU on the other end
func (a *Address) Reverse() (*Address, error) {
	c := a.cfg
	c.TxID, c.RxID = c.RxID, c.TxID
	c.SourceAddress, c.TargetAddress = c.TargetAddress, c.SourceAddress
	return NewAddress(a.mode, c)
}

func (a *Address) String() string {
	ids := a.RxArbitrationIDs()
	return fmt.Sprintf("%s tx 0x%X rx 0x%X", a.mode, a.TxArbitrationID(Physical), ids[0])
}
