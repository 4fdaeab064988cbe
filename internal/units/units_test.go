package units

import (
	"strconv"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		unit string
		want uint64
	}{
		{"16M", "", 16 << 20},
		{"2m", "", 2 << 20},
		{"1g", "", 1 << 30},
		{"4k", "", 4 << 10},
		{"0x100_0000", "", 0x100_0000},
		{"0x8000_0000", "", 0x8000_0000},
		{"3", "m", 3 << 20},
		{"42", "", 42},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSizeErrors(t *testing.T) {
	for _, in := range []string{"", "M", "12q", "0xfffffffffffffffffG"} {
		_, err := ParseSize(in, "")
		assert.Error(t, err, in)
	}

	_, err := ParseSize("0xffffffffffffG", "")
	assert.ErrorIs(t, err, strconv.ErrRange)
}

func TestSizeFlag(t *testing.T) {
	var pool uint64
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	SizeVarP(fs, &pool, "pool-size", "s", 16<<20, "pool size")

	assert.Equal(t, uint64(16<<20), pool)
	require.NoError(t, fs.Parse([]string{"--pool-size", "32M"}))
	assert.Equal(t, uint64(32<<20), pool)
	assert.Equal(t, "0x2000000", fs.Lookup("pool-size").Value.String())
}
