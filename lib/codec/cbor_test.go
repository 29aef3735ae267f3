// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleDevice uses json struct tags, the convention for types that
// serve both JSON and CBOR.
type sampleDevice struct {
	DeviceID   string            `json:"deviceId"`
	DeviceName string            `json:"deviceName,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Count      int               `json:"count"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleDevice{
		DeviceID:   "a1b2",
		DeviceName: "Pixel 8",
		Count:      42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDevice
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.DeviceID != original.DeviceID || decoded.DeviceName != original.DeviceName || decoded.Count != original.Count {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	device := sampleDevice{
		DeviceID: "a1b2",
		Headers:  map[string]string{"z": "1", "a": "2", "m": "3"},
	}

	first, err := Marshal(device)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(device)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestJSONTagsNameFields(t *testing.T) {
	data, err := Marshal(sampleDevice{DeviceID: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["deviceId"] != "x" {
		t.Errorf("deviceId = %v, want x (keys: %v)", decoded["deviceId"], decoded)
	}
	if _, present := decoded["deviceName"]; present {
		t.Error("omitempty field was encoded")
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	devices := []sampleDevice{
		{DeviceID: "one", Count: 1},
		{DeviceID: "two", Count: 2},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, device := range devices {
		if err := encoder.Encode(device); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range devices {
		var got sampleDevice
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode[%d]: %v", i, err)
		}
		if got.DeviceID != want.DeviceID || got.Count != want.Count {
			t.Errorf("Decode[%d] = %+v, want %+v", i, got, want)
		}
	}
}
