package remote

import (
	"encoding/json"
	"fmt"
)

func encodeLease(l lease) ([]byte, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode lease: %w", err)
	}
	return raw, nil
}

func decodeLease(raw []byte) (lease, error) {
	var l lease
	if err := json.Unmarshal(raw, &l); err != nil {
		return lease{}, fmt.Errorf("decode lease: %w", err)
	}
	return l, nil
}
