/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer/peertest"
)

func TestEvent_ToJSON(t *testing.T) {
	ev := New(TypeStateChanged, "s1", "", StatePayload{State: "active"})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ev.ToJSON()), &decoded))
	assert.Equal(t, "state_changed", decoded["type"])
	assert.Equal(t, "s1", decoded["session_id"])
	assert.Equal(t, map[string]interface{}{"state": "active"}, decoded["payload"])
	assert.NotContains(t, decoded, "endpoint_id")
}

func TestType_Code(t *testing.T) {
	assert.Equal(t, 1, TypeStateChanged.Code())
	assert.Equal(t, 4, TypeError.Code())
	assert.Equal(t, 0, Type("other").Code())
}

func TestAttach_givenSession_whenLifecycle_thenEventsInOrder(t *testing.T) {
	devices := media.NewSyntheticDevices(media.DefaultSyntheticConfig())
	sub := peertest.NewSubstrate()
	s := call.NewSession("s1", devices, sub, sub, call.DefaultOptions())

	var mu sync.Mutex
	var got []Type
	Attach(s, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	s.ToggleMute()
	s.End()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Type{TypeStateChanged, TypeStateChanged, TypeFlagsChanged, TypeStateChanged}, got)
}

func TestAttach_givenDenied_thenErrorEventCarriesReason(t *testing.T) {
	devices := media.NewSyntheticDevices(media.DefaultSyntheticConfig())
	devices.SetPermission(media.PermissionDeny)
	sub := peertest.NewSubstrate()
	s := call.NewSession("s2", devices, sub, sub, call.DefaultOptions())

	var errEvent *Event
	Attach(s, func(ev Event) {
		if ev.Type == TypeError {
			e := ev
			errEvent = &e
		}
	})

	assert.Error(t, s.Start(context.Background()))
	require.NotNil(t, errEvent)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "permission_denied", payload.Reason)
}
