package metastore

import "testing"

func TestInsertImageIdempotentOnHash(t *testing.T) {
	s := NewInMemory()
	hash := []byte("abc123")

	id1, first1, err := s.InsertImage(hash, "/a.jpg", 300)
	if err != nil {
		t.Fatalf("InsertImage failed: %v", err)
	}
	id2, _, err := s.InsertImage(hash, "/a-duplicate.jpg", 300)
	if err != nil {
		t.Fatalf("InsertImage failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent insert to return same id, got %d and %d", id1, id2)
	}
	if first1 != 0 {
		t.Fatalf("expected first descriptor id 0, got %d", first1)
	}
	if len(s.images) != 1 {
		t.Fatalf("expected exactly one stored image, got %d", len(s.images))
	}
}

func TestInsertImageDescriptorRanges(t *testing.T) {
	s := NewInMemory()
	_, firstA, _ := s.InsertImage([]byte("a"), "/a.jpg", 300)
	_, firstB, _ := s.InsertImage([]byte("b"), "/b.jpg", 150)
	_, firstC, _ := s.InsertImage([]byte("c"), "/c.jpg", 50)

	if firstA != 0 || firstB != 300 || firstC != 450 {
		t.Fatalf("unexpected descriptor ranges: a=%d b=%d c=%d", firstA, firstB, firstC)
	}
}

func TestImageIDForDescriptorID(t *testing.T) {
	s := NewInMemory()
	idA, _, _ := s.InsertImage([]byte("a"), "/a.jpg", 300) // descriptors 0..299
	idB, _, _ := s.InsertImage([]byte("b"), "/b.jpg", 150) // descriptors 300..449
	idC, _, _ := s.InsertImage([]byte("c"), "/c.jpg", 50)  // descriptors 450..499

	cases := []struct {
		descriptor uint64
		want       uint64
	}{
		{0, idA},
		{299, idA},
		{300, idB},
		{449, idB},
		{450, idC},
		{499, idC},
	}
	for _, c := range cases {
		got, err := s.ImageIDForDescriptorID(c.descriptor)
		if err != nil {
			t.Fatalf("descriptor %d: %v", c.descriptor, err)
		}
		if got != c.want {
			t.Errorf("descriptor %d: expected image %d, got %d", c.descriptor, c.want, got)
		}
	}
}

func TestImageIDForDescriptorIDOutOfRange(t *testing.T) {
	s := NewInMemory()
	s.InsertImage([]byte("a"), "/a.jpg", 10)
	if _, err := s.ImageIDForDescriptorID(100); err == nil {
		t.Fatal("expected error for out-of-range descriptor id")
	}
}

func TestHashExists(t *testing.T) {
	s := NewInMemory()
	if s.HashExists([]byte("nope")) {
		t.Fatal("expected hash not to exist yet")
	}
	s.InsertImage([]byte("nope"), "/x.jpg", 1)
	if !s.HashExists([]byte("nope")) {
		t.Fatal("expected hash to exist after insert")
	}
}
