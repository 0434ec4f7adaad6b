package session

// ValidPhone reports whether s is an 11-digit mobile number.
func ValidPhone(s string) bool {
	return allDigits(s) && len(s) == 11
}

// ValidCode reports whether s is a 6-digit SMS code.
func ValidCode(s string) bool {
	return allDigits(s) && len(s) == 6
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
