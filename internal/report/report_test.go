package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

func TestConsole_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf) // not a terminal

	c.StageDone(spec.StageMagic)
	c.StageFailed(spec.StageCapacity, errors.New("too big"))
	c.Infof("width = %d", 64)

	assert.Equal(t,
		"INFO : Magic string success\n"+
			"INFO : Check capacity failure: too big\n"+
			"INFO : width = 64\n",
		buf.String())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.StageDone(spec.StageOpen)
	r.StageDone(spec.StageCapacity)
	r.StageFailed(spec.StageHeader, errors.New("boom"))

	assert.Equal(t, []spec.Stage{spec.StageOpen, spec.StageCapacity}, r.Stages())

	ev, ok := r.Failed()
	assert.True(t, ok)
	assert.Equal(t, spec.StageHeader, ev.Stage)
}
