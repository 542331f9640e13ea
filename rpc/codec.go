package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(id) {
		return id, fmt.Errorf("invalid identifier %q", raw)
	}
	copy(id[:], decoded)
	return id, nil
}

func parseIDList(raw []string) ([][32]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		id, err := parseID(entry)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func encodeID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func encodeAddress(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func encodeIDList(ids [][32]byte) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, encodeID(id))
	}
	return out
}
