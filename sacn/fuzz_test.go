package sacn

import (
	"bytes"
	"testing"
)

var fuzzCID = CID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

func FuzzParsePacket(f *testing.F) {
	f.Add(BuildDataPacket(&DataPacket{CID: fuzzCID, SourceName: "test", Universe: 1, Slots: make([]byte, 513)}))
	f.Add(BuildDataPacket(&DataPacket{CID: fuzzCID, SourceName: "test", Universe: 1, Slots: make([]byte, 101)}))
	f.Add(BuildDiscoveryPacket("test", fuzzCID, 0, 0, []uint16{1, 2, 3}))
	f.Add([]byte{})
	f.Add(make([]byte, 125))
	f.Add(make([]byte, 126))
	f.Add(make([]byte, 638))

	f.Fuzz(func(t *testing.T, data []byte) {
		pkt, err := ParsePacket(data)
		if err != nil {
			return
		}
		if p, ok := pkt.(*DataPacket); ok {
			if len(p.Slots) < 1 || len(p.Slots) > MaxSlots {
				t.Fatalf("parsed %d slots", len(p.Slots))
			}
		}
	})
}

func FuzzBuildParseRoundtrip(f *testing.F) {
	f.Add(uint16(1), uint8(0), uint8(100), "test", make([]byte, 513))
	f.Add(uint16(63999), uint8(255), uint8(200), "source", make([]byte, 100))
	f.Add(uint16(100), uint8(128), uint8(0), "", []byte{0})
	f.Add(uint16(1), uint8(0), uint8(1), "a very long source name that exceeds the sixty three byte field limit", make([]byte, 600))

	f.Fuzz(func(t *testing.T, universe uint16, seq, priority uint8, sourceName string, slots []byte) {
		if len(slots) == 0 {
			return
		}
		packet := BuildDataPacket(&DataPacket{
			CID:        fuzzCID,
			SourceName: sourceName,
			Priority:   priority,
			Sequence:   seq,
			Universe:   universe,
			Slots:      slots,
		})
		p, err := ParseDataPacket(packet)
		if err != nil {
			t.Fatalf("failed to parse packet we just built: %v", err)
		}
		if p.Universe != universe || p.Sequence != seq || p.Priority != priority || p.CID != fuzzCID {
			t.Fatalf("header mismatch: %+v", p)
		}
		n := min(len(slots), MaxSlots)
		if !bytes.Equal(p.Slots, slots[:n]) {
			t.Fatalf("slot data mismatch")
		}
	})
}
