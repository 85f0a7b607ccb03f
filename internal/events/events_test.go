package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/api"
	"nexus/internal/module"
)

type recordingDispatcher struct {
	published []interface{}
}

func (d *recordingDispatcher) Publish(data interface{}) error {
	d.published = append(d.published, data)
	return nil
}

func TestPublishWithNoHandlerIsNoOp(t *testing.T) {
	t.Cleanup(api.Reset)
	api.Reset()

	p := NewPublisher()
	require.NoError(t, p.Publish(ModuleStartedEvent{}))
}

func TestSupervisorSinkPublishesStartedAndTerminated(t *testing.T) {
	t.Cleanup(api.Reset)
	dispatcher := &recordingDispatcher{}
	api.RegisterDispatcherHandler(dispatcher)

	sink := NewSupervisorSink(NewPublisher())
	release := module.ReleaseIdentifier{Module: "billing", Version: module.Version{Major: 1}}

	sink.ModuleStarted(release)
	sink.ModuleTerminated(release, nil)

	require.Len(t, dispatcher.published, 2)
	started, ok := dispatcher.published[0].(ModuleStartedEvent)
	require.True(t, ok)
	assert.Equal(t, release, started.Release)

	terminated, ok := dispatcher.published[1].(ModuleTerminatedEvent)
	require.True(t, ok)
	assert.Equal(t, release, terminated.Release)
	assert.NoError(t, terminated.Err)
}
