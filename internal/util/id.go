package util

import (
	"encoding/hex"
	"fmt"

	uuid "github.com/gofrs/uuid"
)

// ShortID derives an n-character hex identifier from fresh UUID bytes
func ShortID(n int) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate UUID: %w", err)
	}
	s := hex.EncodeToString(id.Bytes())
	if n > len(s) {
		n = len(s)
	}
	return s[:n], nil
}
