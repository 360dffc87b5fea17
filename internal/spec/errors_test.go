package spec

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_Is(t *testing.T) {
	cause := &fs.PathError{Op: "open", Path: "x.bmp", Err: fs.ErrNotExist}
	err := fmt.Errorf("encode: %w", Fail(StageOpen, ErrFileOpen, cause))

	assert.ErrorIs(t, err, ErrFileOpen)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrCapacity)

	assert.Equal(t, ErrFileOpen, KindOf(err))
	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, StageOpen, stage)

	var pathErr *fs.PathError
	assert.ErrorAs(t, err, &pathErr)
}

func TestStageError_Message(t *testing.T) {
	assert.Equal(t, "magic string: not a stegged image or key mismatch",
		Fail(StageMagic, ErrFormat, nil).Error())

	assert.Equal(t, "check capacity: secret will not fit in carrier: need 10 bytes",
		Fail(StageCapacity, ErrCapacity, errors.New("need 10 bytes")).Error())

	// a cause that already names the kind is not repeated
	wrapped := fmt.Errorf("%w: need 10 bytes", ErrCapacity)
	assert.Equal(t, "check capacity: secret will not fit in carrier: need 10 bytes",
		Fail(StageCapacity, ErrCapacity, wrapped).Error())
}

func TestKindOf_Plain(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("other")))
	assert.Nil(t, KindOf(nil))
	_, ok := StageOf(ErrIO)
	assert.False(t, ok)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "secret file extension size", StageExtensionSize.String())
	assert.Equal(t, "remaining image data", StageTail.String())
	assert.Equal(t, "unknown stage", Stage(99).String())
}
