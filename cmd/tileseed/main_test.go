package main

import "testing"

func TestParseBounds(t *testing.T) {
	b, err := parseBounds("10.5, 55,12,56.25")
	if err != nil {
		t.Fatal(err)
	}
	if b.MinX != 10.5 || b.MinY != 55 || b.MaxX != 12 || b.MaxY != 56.25 {
		t.Fatalf("got %+v", b)
	}
	for _, bad := range []string{"1,2,3", "a,b,c,d", "5,5,1,1"} {
		if _, err := parseBounds(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
