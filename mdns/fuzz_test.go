package mdns

import "testing"

func FuzzParse(f *testing.F) {
	q, _ := BuildQuery("lxnet.local", TypePTR)
	f.Add(q)
	f.Add(header(flagsResponse, 0, 1))
	f.Add(append(header(flagsResponse, 0, 1), 0xC0, HeaderSize))
	f.Add(append(header(flagsResponse, 0xffff, 0xffff), 0x3f))

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Parse(data)
		if err != nil || p == nil {
			return
		}
		for _, r := range append(p.Answers, p.Additionals...) {
			r.PTRName()
			r.TXT()
			r.SRV()
			if r.NextOffset() > len(data) {
				t.Fatalf("next offset %d past end %d", r.NextOffset(), len(data))
			}
		}
	})
}
