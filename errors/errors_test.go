package errors_test

import (
	"testing"

	gostderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fberrors "github.com/fbtool/fbinst/errors"
)

func TestKindWithMessage(t *testing.T) {
	err := fberrors.NotFound.WithMessage("BOOT.BIN")
	assert.Equal(t, "no such file in catalog: BOOT.BIN", err.Error())
	assert.True(t, gostderrors.Is(err, fberrors.NotFound))
}

func TestChainSurvivesMultipleWraps(t *testing.T) {
	base := fberrors.IoError.WithMessage("short read")
	wrapped := base.WithMessage("loading catalog")
	require.True(t, gostderrors.Is(wrapped, fberrors.IoError))
	assert.Contains(t, wrapped.Error(), "short read")
	assert.Contains(t, wrapped.Error(), "loading catalog")
}

func TestWrapErrorPreservesUnwrap(t *testing.T) {
	sentinel := gostderrors.New("disk read failed")
	err := fberrors.IoError.WrapError(sentinel)
	assert.Same(t, sentinel, gostderrors.Unwrap(err))
	assert.True(t, gostderrors.Is(err, fberrors.IoError))
}

func TestDistinctKindsDontMatch(t *testing.T) {
	err := fberrors.NoSpace.WithMessage("catalog full")
	assert.False(t, gostderrors.Is(err, fberrors.NotFound))
}
