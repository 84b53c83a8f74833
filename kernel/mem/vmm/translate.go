package vmm

import "nyxkernel/kernel"

// Translate returns the physical address corresponding to virtAddr, or
// ErrInvalidMapping if it is not currently mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	pageOffset := virtAddr & (1<<pageLevelShifts[pageLevels-1] - 1)
	return pte.Frame().Address() + pageOffset, nil
}
