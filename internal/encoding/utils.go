package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidSlots is returned when encoded sketch slots are malformed
var ErrInvalidSlots = errors.New("invalid sketch slots")

// EncodeSlots converts sketch slot values to bytes: an int32 length followed
// by the values, little-endian.
func EncodeSlots(slots []uint32) ([]byte, error) {
	if slots == nil {
		return nil, ErrInvalidSlots
	}
	if len(slots) > 2147483647 { // max int32
		return nil, fmt.Errorf("too many slots: %d exceeds maximum", len(slots))
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+4*len(slots)))
	if err := binary.Write(buf, binary.LittleEndian, int32(len(slots))); err != nil {
		return nil, fmt.Errorf("failed to encode slot count: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, slots); err != nil {
		return nil, fmt.Errorf("failed to encode slots: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSlots converts bytes written by EncodeSlots back to slot values
func DecodeSlots(data []byte) ([]uint32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidSlots
	}

	buf := bytes.NewReader(data)
	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to decode slot count: %w", err)
	}
	if length < 0 {
		return nil, ErrInvalidSlots
	}
	if buf.Len() != int(length)*4 {
		return nil, ErrInvalidSlots
	}

	slots := make([]uint32, length)
	if err := binary.Read(buf, binary.LittleEndian, slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

// SlotsToString encodes slots as standard base64 for text properties
func SlotsToString(slots []uint32) (string, error) {
	data, err := EncodeSlots(slots)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SlotsFromString decodes a string written by SlotsToString
func SlotsFromString(s string) ([]uint32, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlots, err)
	}
	return DecodeSlots(data)
}
