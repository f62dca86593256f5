package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "***", Mask("short"))
	assert.Equal(t, "ORD-...9999", Mask("ORD-2024-0001-9999"))
}

func TestNew(t *testing.T) {
	assert.NotNil(t, New("prod"))
	assert.NotNil(t, New("dev"))
}
