package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPublishSubject(t *testing.T) {
	assert.NoError(t, ValidPublishSubject("greet"))
	assert.NoError(t, ValidPublishSubject("a.b.c"))
	assert.Error(t, ValidPublishSubject(""))
	assert.Error(t, ValidPublishSubject("a..b"))
	assert.Error(t, ValidPublishSubject("a b"))
	assert.Error(t, ValidPublishSubject("a\r\nb"))
	assert.Error(t, ValidPublishSubject("a.*"))
	assert.Error(t, ValidPublishSubject("a.>"))
}

func TestValidSubscribeSubject(t *testing.T) {
	assert.NoError(t, ValidSubscribeSubject("a.*"))
	assert.NoError(t, ValidSubscribeSubject("a.>"))
	assert.NoError(t, ValidSubscribeSubject(">"))
	assert.Error(t, ValidSubscribeSubject("a.>.b"))
	assert.Error(t, ValidSubscribeSubject(""))
}
