package hal

// System bus addresses and values used by drive reactivation and the DMA
// protection unlock. Addresses are physical; the Memory implementation maps
// them to whatever area it needs.
const (
	// RegReactivate receives the BIOS size before the reactivation scan.
	RegReactivate uintptr = 0x005f74e4

	// RegDMAProtection is the controller's DMA protection register.
	RegDMAProtection uintptr = 0x005f74b8

	// BIOSBase is the base of the boot ROM.
	BIOSBase uintptr = 0x00000000

	// SysMemBase is the start of system memory.
	SysMemBase uintptr = 0x0c000000

	// ProtectionScanSize is the span of system memory holding the boot
	// code's copy of the protection value.
	ProtectionScanSize = 16 << 10
)

// Boot ROM signatures read from the first halfword.
const (
	BootstrapStandard uint16 = 0xe3ff
	BootstrapCustom   uint16 = 0xe6ff
)

// Reactivation scan sizes in bytes for each bootstrap kind.
const (
	ReactivateStandardSize = 0x200000
	ReactivateCustomSize   = 0x400
)

// DMA protection values.
const (
	DMAUnlockCode   uint32 = 0x8843
	DMAUnlockSysMem uint32 = DMAUnlockCode<<16 | 0x407f
	DMAUnlockAllMem uint32 = DMAUnlockCode<<16 | 0x007f
)
