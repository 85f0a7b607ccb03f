package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeInstaller struct{}

func (fakeInstaller) Status() []ModuleStatus {
	return []ModuleStatus{{Module: "billing", Version: "1.0.0", State: "Running"}}
}

func TestRegisterAndGetInstallerHandler(t *testing.T) {
	t.Cleanup(Reset)

	_, ok := GetInstallerHandler()
	assert.False(t, ok)

	RegisterInstallerHandler(fakeInstaller{})

	h, ok := GetInstallerHandler()
	assert.True(t, ok)
	assert.Equal(t, []ModuleStatus{{Module: "billing", Version: "1.0.0", State: "Running"}}, h.Status())
}

func TestResetClearsAllHandlers(t *testing.T) {
	t.Cleanup(Reset)

	RegisterInstallerHandler(fakeInstaller{})
	Reset()

	_, ok := GetInstallerHandler()
	assert.False(t, ok)
}
