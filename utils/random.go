package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// NewBookingReference returns a fresh reservation id such as "BK3FA91C0D2E".
func NewBookingReference() (string, error) {
	code, err := GenerateCode(5)
	if err != nil {
		return "", err
	}
	return "BK" + code, nil
}
