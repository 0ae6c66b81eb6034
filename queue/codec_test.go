package queue

import (
	"testing"

	"github.com/Rohithcheryala/Image-Processing-API/id"
)

func TestCodecRoundTrip(t *testing.T) {
	in := Token{BatchID: id.NewBatchID(), ItemID: id.NewItemID(), Attempt: 3}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.BatchID.String() != in.BatchID.String() ||
		out.ItemID.String() != in.ItemID.String() ||
		out.Attempt != in.Attempt {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("\xc1not msgpack")); err == nil {
		t.Fatal("expected error for garbage payload")
	}
}
