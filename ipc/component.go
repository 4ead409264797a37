package ipc

import (
	"context"
	"fmt"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

const (
	opUpdateState              = "aws.greengrass#UpdateState"
	smtUpdateStateRequest      = "aws.greengrass#UpdateStateRequest"
	opRestartComponent         = "aws.greengrass#RestartComponent"
	smtRestartComponentRequest = "aws.greengrass#RestartComponentRequest"
)

// ComponentState is a lifecycle state a component reports about itself.
type ComponentState int

const (
	ComponentStateRunning ComponentState = iota
	ComponentStateErrored
)

func (s ComponentState) String() string {
	switch s {
	case ComponentStateRunning:
		return "RUNNING"
	case ComponentStateErrored:
		return "ERRORED"
	default:
		return fmt.Sprintf("ComponentState(%d)", int(s))
	}
}

// UpdateState reports the calling component's lifecycle state.
func (c *Client) UpdateState(ctx context.Context, state ComponentState) error {
	if state != ComponentStateRunning && state != ComponentStateErrored {
		log.Error().Int("state", int(state)).Msg("ipc: invalid component state")
		return ggerr.Errorf(ggerr.Invalid, "ipc: invalid component state %d", int(state))
	}
	args := object.NewMap(object.Pair("state", object.Buf(state.String())))
	_, err := c.Call(ctx, opUpdateState, smtUpdateStateRequest, args, &CallOptions{
		OnError: remoteErrors("UpdateState", nil),
	})
	return err
}

// RestartComponent asks the supervisor to restart componentName. A
// restartStatus of FAILED is ggerr.Failure.
func (c *Client) RestartComponent(ctx context.Context, componentName string) error {
	args := object.NewMap(object.Pair("componentName", object.Buf(componentName)))
	_, err := c.Call(ctx, opRestartComponent, smtRestartComponentRequest, args, &CallOptions{
		OnError: remoteErrors("RestartComponent", nil),
		OnResult: func(_ context.Context, result object.Map) error {
			var status object.Value
			if err := object.ValidateMap(result, object.Required("restartStatus", object.TypeBuffer, &status)); err != nil {
				log.Error().Err(err).Msg("ipc: RestartComponent response missing restartStatus")
				return ggerr.Errorf(ggerr.Failure, "ipc: restart %s: %w", componentName, err)
			}
			if string(status.(object.Buffer)) == "FAILED" {
				log.Error().Str("component", componentName).Msg("ipc: component restart failed")
				return ggerr.Errorf(ggerr.Failure, "ipc: restart %s failed", componentName)
			}
			return nil
		},
	})
	return err
}
