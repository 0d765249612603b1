package bufpool

import (
	"testing"
)

func TestPool_GetPut(t *testing.T) {
	bufSize := 4096
	pool := New(bufSize)

	buf1 := pool.Get()
	if len(buf1) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf1))
	}
	pool.Put(buf1)

	buf2 := pool.Get()
	if len(buf2) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf2))
	}
	if pool.BufSize() != bufSize {
		t.Errorf("expected BufSize %d, got %d", bufSize, pool.BufSize())
	}
}

func TestPool_TooSmallBuffer(t *testing.T) {
	pool := New(4096)
	pool.Put(make([]byte, 1024))

	if buf := pool.Get(); len(buf) != 4096 {
		t.Errorf("expected buffer length 4096, got %d", len(buf))
	}
}

func TestPool_PanicOnZeroSize(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for zero bufSize")
		}
	}()
	New(0)
}

func TestClassFor(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 0},
		{8192, 0},
		{8193, 1},
		{16384, 1},
		{100 * 1024, 4},
		{1 << 28, maxClassShift - minClassShift},
		{1<<28 + 1, maxClassShift - minClassShift + 1},
	}
	for _, tc := range cases {
		if got := classFor(tc.n); got != tc.want {
			t.Errorf("classFor(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestClasses_GetPut(t *testing.T) {
	c := NewClasses()

	buf := c.Get(10000)
	if len(buf) != 10000 {
		t.Fatalf("expected length 10000, got %d", len(buf))
	}
	if cap(buf) != 16384 {
		t.Fatalf("expected class capacity 16384, got %d", cap(buf))
	}
	c.Put(buf)

	if buf := c.Get(0); len(buf) != 0 || cap(buf) != 8192 {
		t.Fatalf("expected empty slice from smallest class, got len=%d cap=%d", len(buf), cap(buf))
	}

	// Foreign buffers are ignored rather than stored in the wrong class.
	c.Put(make([]byte, 12345))
	if buf := c.Get(12345); cap(buf) != 16384 {
		t.Fatalf("expected class capacity 16384, got %d", cap(buf))
	}
}
