package device

import (
	"fmt"
	"strings"
)

// bluetoothBaseSuffix is the tail of every SIG-assigned 128-bit UUID.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to its canonical comparison form:
// lowercase, no dashes, no 0x prefix. A 128-bit UUID built on the Bluetooth
// SIG base (0000xxxx-0000-1000-8000-00805f9b34fb) is reduced to its 16-bit
// form (xxxx). Hosts disagree on which form they report.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, bluetoothBaseSuffix) {
		return s[4:8]
	}
	return s
}

// ValidateUUID validates that UUID strings are 16-, 32- or 128-bit hex and
// returns their normalized forms.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		if !isHex(normalized) || (len(normalized) != 4 && len(normalized) != 8 && len(normalized) != 32) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
