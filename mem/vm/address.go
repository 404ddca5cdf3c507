package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrAddressOutOfRange is matched by every *AddressError.
var ErrAddressOutOfRange = errors.New("virtual address out of range")

// An AddressError reports a virtual address that is not part of the address
// space. PageCount is set when the address fits in the address width but its
// page number is beyond the last page.
type AddressError struct {
	VAddr     uint64
	Bits      uint64
	PageCount uint64
}

func (e *AddressError) Error() string {
	if e.PageCount > 0 {
		return fmt.Sprintf("virtual address 0x%x is beyond page %d",
			e.VAddr, e.PageCount-1)
	}

	return fmt.Sprintf("virtual address 0x%x does not fit in %d bits",
		e.VAddr, e.Bits)
}

// Is makes errors.Is(err, ErrAddressOutOfRange) hold.
func (e *AddressError) Is(target error) bool {
	return target == ErrAddressOutOfRange
}

// ParseAddress parses an address typed by a user. It accepts Go integer
// literals (0x1f, 0b101, 0o17, 1_000, 42) and bare hexadecimal numbers with
// an "h" suffix (1fh).
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty address")
	}

	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "h") && !strings.HasPrefix(lower, "0x") {
		return strconv.ParseUint(strings.TrimSuffix(lower, "h"), 16, 64)
	}

	return strconv.ParseUint(lower, 0, 64)
}
