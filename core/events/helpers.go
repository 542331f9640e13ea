package events

import (
	"encoding/hex"
	"math/big"
	"strings"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func encodeIDList(ids [][32]byte) string {
	if len(ids) == 0 {
		return ""
	}
	encoded := make([]string, 0, len(ids))
	for _, id := range ids {
		encoded = append(encoded, hex.EncodeToString(id[:]))
	}
	return strings.Join(encoded, ",")
}
