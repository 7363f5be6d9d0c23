package region_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fbtool/fbinst/region"
)

func TestUnitSize(t *testing.T) {
	assert.Equal(t, 510, region.Primary.UnitSize())
	assert.Equal(t, 512, region.Extended.UnitSize())
}

func TestSectorsForRoundsUp(t *testing.T) {
	cases := []struct {
		r        region.Region
		n        uint32
		expected uint32
	}{
		{region.Primary, 0, 0},
		{region.Primary, 1, 1},
		{region.Primary, 510, 1},
		{region.Primary, 511, 2},
		{region.Primary, 1020, 2},
		{region.Extended, 512, 1},
		{region.Extended, 513, 2},
	}
	for _, c := range cases {
		assert.Equalf(t, c.expected, c.r.SectorsFor(c.n),
			"%s.SectorsFor(%d)", c.r, c.n)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, region.Primary.Validate())
	assert.NoError(t, region.Extended.Validate())
	assert.Error(t, region.Region(99).Validate())
}

func TestString(t *testing.T) {
	assert.Equal(t, "primary", region.Primary.String())
	assert.Equal(t, "extended", region.Extended.String())
}
