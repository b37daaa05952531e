package geo

import (
	"fmt"
	"strings"
)

// ExcludedStateFIPS lists the state and territory codes dropped from the
// contiguous-US analysis: Alaska, Hawaii, American Samoa, Guam, Northern
// Mariana Islands, Puerto Rico and the US Virgin Islands.
var ExcludedStateFIPS = []string{"02", "15", "60", "66", "69", "72", "78"}

// NormalizeFIPSState normalizes a state FIPS code to 2 digits with zero-padding.
func NormalizeFIPSState(code string) string {
	return padDigits(code, 2)
}

// NormalizeFIPSCounty normalizes a county FIPS code to 3 digits with zero-padding.
func NormalizeFIPSCounty(code string) string {
	return padDigits(code, 3)
}

// CombineFIPS combines state and county FIPS codes into a 5-digit code.
func CombineFIPS(state, county string) string {
	s := NormalizeFIPSState(state)
	c := NormalizeFIPSCounty(county)
	if s == "" || c == "" {
		return ""
	}
	return s + c
}

// PadFIPS normalizes a full county code that may have lost its leading zero
// or gained a float suffix ("1001.0" → "01001").
func PadFIPS(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimSuffix(code, ".0")
	return padDigits(code, 5)
}

// FormatFIPS formats a numeric FIPS code with proper zero-padding.
func FormatFIPS(code int, digits int) string {
	return fmt.Sprintf("%0*d", digits, code)
}

func padDigits(code string, width int) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < width {
		code = "0" + code
	}
	return code
}
