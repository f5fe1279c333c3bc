package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"flashcore/internal/errs"
)

func Test_Error_Message_Formatting(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  *errs.Error
		want string
	}{
		{
			name: "NoSectorNoMessage",
			err:  errs.New("mount", errs.KindNotFormatted, ""),
			want: "mount: not_formatted",
		},
		{
			name: "NoSectorWithMessage",
			err:  errs.New("mount", errs.KindNotFormatted, "missing info sector"),
			want: "mount: not_formatted: missing info sector",
		},
		{
			name: "WithSectorNoMessage",
			err:  errs.NewSector("read", errs.KindCorruption, 7, ""),
			want: "read: sector 7: corruption",
		},
		{
			name: "WithSectorAndMessage",
			err:  errs.NewSector("read", errs.KindCorruption, 7, "uncorrectable ECC"),
			want: "read: sector 7: corruption: uncorrectable ECC",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.EqualError(t, testCase.err, testCase.want)
		})
	}
}

func Test_KindOf_And_IsKind(t *testing.T) {
	t.Parallel()

	err := errs.NewSector("write", errs.KindOutOfSpace, 3, "no free block")

	kind, ok := errs.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, errs.KindOutOfSpace, kind)
	assert.True(t, errs.IsKind(err, errs.KindOutOfSpace))
	assert.False(t, errs.IsKind(err, errs.KindIO))
}

func Test_KindOf_False_For_Plain_Error(t *testing.T) {
	t.Parallel()

	_, ok := errs.KindOf(errors.New("boom"))

	assert.False(t, ok)
}

func Test_Wrap_Preserves_Underlying_Error(t *testing.T) {
	t.Parallel()

	underlying := errors.New("disk on fire")
	wrapped := errs.Wrap("erase", errs.KindIO, underlying)

	assert.ErrorIs(t, wrapped, underlying)
	assert.True(t, errs.IsKind(wrapped, errs.KindIO))
}

func Test_Error_Is_Matches_By_Kind_Only(t *testing.T) {
	t.Parallel()

	a := errs.NewSector("read", errs.KindCorruption, 1, "bad ecc")
	b := errs.NewSector("read", errs.KindCorruption, 99, "different sector")
	c := errs.New("read", errs.KindIO, "")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}
