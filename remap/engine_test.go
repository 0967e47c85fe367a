package remap

import (
	"testing"

	"github.com/gopatchy/lxnet/config"
)

func TestRemapMergesSourcesIntoOneOutput(t *testing.T) {
	a := config.Universe{Protocol: config.ProtocolArtNet, Number: 0}
	b := config.Universe{Protocol: config.ProtocolSACN, Number: 1}
	dst := config.Universe{Protocol: config.ProtocolArtNet, Number: 1}

	e := NewEngine([]config.NormalizedMapping{
		{From: a, FromChan: 0, To: dst, ToChan: 0, Count: 4},
		{From: b, FromChan: 10, To: dst, ToChan: 4, Count: 2},
	})

	var frameA, frameB [512]byte
	copy(frameA[:], []byte{1, 2, 3, 4})
	frameB[10], frameB[11] = 50, 60

	e.Remap(a, frameA)
	if outs := e.GetDirtyOutputs(); len(outs) != 1 || outs[0].Data[3] != 4 {
		t.Fatalf("outputs = %v", outs)
	}
	if outs := e.GetDirtyOutputs(); len(outs) != 0 {
		t.Fatalf("dirty not cleared: %d outputs", len(outs))
	}

	e.Remap(b, frameB)
	outs := e.GetDirtyOutputs()
	if len(outs) != 1 {
		t.Fatalf("outputs = %d", len(outs))
	}
	want := []byte{1, 2, 3, 4, 50, 60, 0}
	for i, v := range want {
		if outs[0].Data[i] != v {
			t.Errorf("slot %d = %d, want %d", i, outs[0].Data[i], v)
		}
	}

	cur, ok := e.Output(dst)
	if !ok || cur.Data != outs[0].Data {
		t.Errorf("Output(%s) = %v, %v", dst, ok, cur.Data[:8])
	}
	if _, ok := e.Output(a); ok {
		t.Error("source universe has no output frame")
	}
}

func TestUniverseLists(t *testing.T) {
	s1 := config.Universe{Protocol: config.ProtocolSACN, Number: 5}
	s2 := config.Universe{Protocol: config.ProtocolArtNet, Number: 9}
	d := config.Universe{Protocol: config.ProtocolArtNet, Number: 2}

	e := NewEngine([]config.NormalizedMapping{
		{From: s1, To: d, Count: 1},
		{From: s2, To: d, Count: 1},
	})

	src := e.SourceUniverses()
	if len(src) != 2 || src[0] != s2 || src[1] != s1 {
		t.Errorf("sources = %v", src)
	}
	if dst := e.DestUniverses(); len(dst) != 1 || dst[0] != d {
		t.Errorf("destinations = %v", dst)
	}
}
