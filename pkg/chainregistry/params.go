/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chainregistry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ParameterNames constructs the registry's positional parameter names,
// "{paramType}{index}" with a 1-based index. The naming is a positional
// convention carried by the registry contract; there is no schema
// versioning, so both sides of a diff must derive names from the same
// ordering.
func ParameterNames(paramType string, count int) []string {
	names := make([]string, count)

	for i := 0; i < count; i++ {
		names[i] = fmt.Sprintf("%s%d", paramType, i+1)
	}

	return names
}

const abiWordSize = 32

// EncodeParameterValue ABI-encodes a string parameter value the way the
// registry stores it: offset word, length word, then the bytes padded to a
// 32-byte boundary.
func EncodeParameterValue(value string) []byte {
	data := []byte(value)
	padded := (len(data) + abiWordSize - 1) / abiWordSize * abiWordSize

	out := make([]byte, abiWordSize*2+padded)
	binary.BigEndian.PutUint64(out[abiWordSize-8:abiWordSize], abiWordSize)
	binary.BigEndian.PutUint64(out[abiWordSize*2-8:abiWordSize*2], uint64(len(data)))
	copy(out[abiWordSize*2:], data)

	return out
}

// DecodeParameterValue decodes a registry-stored ABI string value. An empty
// value decodes to the empty string (unset parameter).
func DecodeParameterValue(encoded []byte) (string, error) {
	if len(encoded) == 0 {
		return "", nil
	}

	if len(encoded) < abiWordSize*2 {
		return "", errors.New("encoded value shorter than offset and length words")
	}

	offset := binary.BigEndian.Uint64(encoded[abiWordSize-8 : abiWordSize])
	if offset != abiWordSize {
		return "", fmt.Errorf("unexpected data offset %d", offset)
	}

	length := binary.BigEndian.Uint64(encoded[abiWordSize*2-8 : abiWordSize*2])
	if uint64(len(encoded)-abiWordSize*2) < length {
		return "", errors.New("encoded value truncated")
	}

	return string(encoded[abiWordSize*2 : abiWordSize*2+length]), nil
}
