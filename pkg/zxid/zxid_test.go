package zxid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZXID_EpochAndCounter(t *testing.T) {
	tests := []struct {
		name    string
		epoch   int32
		counter int32
		want    int64
	}{
		{
			name: "zero",
			want: 0,
		},
		{
			name:    "counter only",
			counter: 7,
			want:    7,
		},
		{
			name:  "epoch only",
			epoch: 2,
			want:  2 << 32,
		},
		{
			name:    "high bit of counter set",
			epoch:   1,
			counter: -1,
			want:    1<<32 | 0xFFFFFFFF,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			z := New(test.epoch, test.counter)
			assert.Equal(t, test.want, int64(z))
			assert.Equal(t, test.epoch, z.Epoch())
			assert.Equal(t, test.counter, z.Counter())
		})
	}
}

func TestZXID_Advance(t *testing.T) {
	z := New(1, 10)
	assert.Equal(t, New(1, 11), z.Advance(New(1, 11)))
	assert.Equal(t, z, z.Advance(0))
	assert.Equal(t, z, z.Advance(New(1, 9)))
	assert.Equal(t, "0x10000000a", z.String())
}
