package document

import (
	"encoding/json"
	"testing"
)

func TestChecksumStableUnderKeyReorder(t *testing.T) {
	a := json.RawMessage(`{"monthlyGoal":10,"theme":{"color":"red","size":2},"tags":["x","y"]}`)
	b := json.RawMessage(`{"tags":["x","y"],"theme":{"size":2,"color":"red"},"monthlyGoal":10}`)

	sumA, err := Checksum(a)
	if err != nil {
		t.Fatalf("Checksum(a) failed: %v", err)
	}
	sumB, err := Checksum(b)
	if err != nil {
		t.Fatalf("Checksum(b) failed: %v", err)
	}
	if sumA != sumB {
		t.Errorf("checksum not stable under key reorder: %s != %s", sumA, sumB)
	}
}

func TestChecksumDiffersForDifferentData(t *testing.T) {
	sumA, _ := Checksum(json.RawMessage(`{"goal":10}`))
	sumB, _ := Checksum(json.RawMessage(`{"goal":11}`))
	if sumA == sumB {
		t.Error("different payloads produced identical checksums")
	}
}

func TestWrapVersionMonotonicity(t *testing.T) {
	first, err := Wrap(json.RawMessage(`{"monthlyGoal":10,"currentAmount":2}`), nil)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	// Identical logical data, different key order: version must not move.
	same, err := Wrap(json.RawMessage(`{"currentAmount":2,"monthlyGoal":10}`), first)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if same.Version != 1 {
		t.Errorf("idempotent rewrite bumped version to %d", same.Version)
	}
	if same.Checksum != first.Checksum {
		t.Errorf("idempotent rewrite changed checksum")
	}

	changed, err := Wrap(json.RawMessage(`{"monthlyGoal":15,"currentAmount":2}`), same)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if changed.Version != 2 {
		t.Errorf("expected version 2 after material change, got %d", changed.Version)
	}
}

func TestWrapStampsUpdatedAt(t *testing.T) {
	doc, err := Wrap(json.RawMessage(`{"a":1}`), nil)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestUnwrapRoundTrip(t *testing.T) {
	payload := json.RawMessage(`{"nested":{"b":2,"a":1},"list":[1,2,3],"s":"text"}`)
	doc, err := Wrap(payload, nil)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data, err := Unwrap(encoded)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}

	canonicalIn, _ := Canonicalize(payload)
	canonicalOut, _ := Canonicalize(data)
	if string(canonicalIn) != string(canonicalOut) {
		t.Errorf("round trip changed data: %s != %s", canonicalIn, canonicalOut)
	}
}

func TestDecodeLegacyBareObject(t *testing.T) {
	doc, err := Decode([]byte(`{"walletAddress":"W1","goal":5}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if doc == nil {
		t.Fatal("legacy object decoded to nil")
	}
	if doc.Version != 1 {
		t.Errorf("legacy document should report version 1, got %d", doc.Version)
	}
	if doc.Checksum == "" {
		t.Error("legacy document missing computed checksum")
	}
	var data map[string]any
	if err := json.Unmarshal(doc.Data, &data); err != nil {
		t.Fatalf("legacy data not parsable: %v", err)
	}
	if data["walletAddress"] != "W1" {
		t.Errorf("legacy data lost: %v", data)
	}
}

func TestDecodeCorruptContent(t *testing.T) {
	for _, raw := range []string{`{not json`, `"just a string"`, `[1,2,3`} {
		if _, err := Decode([]byte(raw)); err != ErrCorrupt {
			t.Errorf("Decode(%q) = %v, want ErrCorrupt", raw, err)
		}
	}
}

func TestDecodeEmptyContent(t *testing.T) {
	doc, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) failed: %v", err)
	}
	if doc != nil {
		t.Errorf("empty content should decode to nil document")
	}
}
