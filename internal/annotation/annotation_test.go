package annotation

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := Validate("a1", []float64{10, 20}); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	if err := Validate("", []float64{10, 20}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
	if err := Validate("  ", []float64{10, 20}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID for blank id, got %v", err)
	}
	if err := Validate("a1", []float64{10}); !errors.Is(err, ErrShortPosition) {
		t.Fatalf("expected ErrShortPosition, got %v", err)
	}
	if err := Validate("a1", nil); !errors.Is(err, ErrShortPosition) {
		t.Fatalf("expected ErrShortPosition for nil position, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	client := "c-7"
	in := Annotation{ID: "a1", Position: []float64{10.5, -20.25, 3}, UpdatedAt: 1700000000000, ClientID: &client}

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := Decode("a1", b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != in.ID || out.UpdatedAt != in.UpdatedAt {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.Position) != 3 || out.Position[1] != -20.25 {
		t.Fatalf("position mismatch: %v", out.Position)
	}
	if out.ClientID == nil || *out.ClientID != client {
		t.Fatalf("clientId mismatch: %v", out.ClientID)
	}
}

func TestDecodeNullClient(t *testing.T) {
	a, err := Decode("a1", []byte(`{"position":[1,2],"updatedAt":5,"clientId":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.ClientID != nil {
		t.Fatalf("expected nil clientId, got %v", *a.ClientID)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("a1", []byte("not json")); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
	// Decodes but violates the position invariant.
	if _, err := Decode("a1", []byte(`{"position":[1],"updatedAt":5,"clientId":null}`)); !errors.Is(err, ErrShortPosition) {
		t.Fatalf("expected ErrShortPosition, got %v", err)
	}
}
