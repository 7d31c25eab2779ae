package session

import (
	"fmt"
	"testing"
	"time"
)

func makeRecord(id int) Record {
	return Record{
		SessionID: "test",
		Value:     fmt.Sprintf("code-%d", id),
		ScannedAt: time.Now().UTC(),
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer[Record](10)
	records := rb.ReadAll()
	if len(records) != 0 {
		t.Errorf("expected empty buffer, got %d records", len(records))
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer[Record](10)
	for i := 0; i < 5; i++ {
		rb.Write(makeRecord(i))
	}

	records := rb.ReadAll()
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, r := range records {
		expected := fmt.Sprintf("code-%d", i)
		if r.Value != expected {
			t.Errorf("record %d: expected %s, got %s", i, expected, r.Value)
		}
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer[Record](5)
	for i := 0; i < 8; i++ {
		rb.Write(makeRecord(i))
	}

	records := rb.ReadAll()
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	// Oldest three dropped.
	for i, r := range records {
		expected := fmt.Sprintf("code-%d", i+3)
		if r.Value != expected {
			t.Errorf("record %d: expected %s, got %s", i, expected, r.Value)
		}
	}
}

func TestRingBuffer_ExactCapacity(t *testing.T) {
	rb := NewRingBuffer[Record](3)
	for i := 0; i < 3; i++ {
		rb.Write(makeRecord(i))
	}

	records := rb.ReadAll()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		expected := fmt.Sprintf("code-%d", i)
		if r.Value != expected {
			t.Errorf("record %d: expected %s, got %s", i, expected, r.Value)
		}
	}
}

func TestRingBuffer_ZeroCapacityHoldsOne(t *testing.T) {
	rb := NewRingBuffer[int](0)
	rb.Write(1)
	rb.Write(2)

	items := rb.ReadAll()
	if len(items) != 1 || items[0] != 2 {
		t.Errorf("expected [2], got %v", items)
	}
}

func TestRingBuffer_ReadReturnsCopy(t *testing.T) {
	rb := NewRingBuffer[int](4)
	rb.Write(1)

	items := rb.ReadAll()
	items[0] = 99

	if got := rb.ReadAll()[0]; got != 1 {
		t.Errorf("buffer mutated through ReadAll result: got %d", got)
	}
}
