package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptionsSane(t *testing.T) {
	o := Default()
	assert.Equal(t, 1, o.ISOLevel)
	assert.True(t, o.RockRidge)
	assert.GreaterOrEqual(t, o.FIFOSize, 32)
}

func TestRecordMD5BitsCompose(t *testing.T) {
	o := Default()
	o.RecordMD5 = RecordMD5Session | RecordMD5PerFile
	assert.True(t, o.RecordMD5&RecordMD5Session != 0)
	assert.True(t, o.RecordMD5&RecordMD5PerFile != 0)
}
