package ipc

import (
	"context"
	"time"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

const (
	opGetConfiguration                = "aws.greengrass#GetConfiguration"
	smtGetConfigurationRequest        = "aws.greengrass#GetConfigurationRequest"
	opUpdateConfiguration             = "aws.greengrass#UpdateConfiguration"
	smtUpdateConfigurationRequest     = "aws.greengrass#UpdateConfigurationRequest"
	opSubscribeToConfigurationUpdate  = "aws.greengrass#SubscribeToConfigurationUpdate"
	smtSubscribeToConfigurationUpdate = "aws.greengrass#SubscribeToConfigurationUpdateRequest"
	smtConfigurationUpdateEvents      = "aws.greengrass#ConfigurationUpdateEvents"
	opPrivateGetSystemConfig          = "aws.greengrass.private#GetSystemConfig"
	smtPrivateGetSystemConfigRequest  = "aws.greengrass.private#GetSystemConfigRequest"
)

// ConfigUpdateFunc receives configuration change notifications.
type ConfigUpdateFunc func(ctx context.Context, componentName string, keyPath []string, h Handle)

func (c *Client) getConfig(ctx context.Context, keyPath []string, componentName string, onValue func(object.Value) error) error {
	path, err := keyPathList(keyPath)
	if err != nil {
		return err
	}
	entries := []object.KV{object.Pair("keyPath", path)}
	if componentName != "" {
		entries = append(entries, object.Pair("componentName", object.Buf(componentName)))
	}
	_, err = c.Call(ctx, opGetConfiguration, smtGetConfigurationRequest, object.NewMap(entries...), &CallOptions{
		OnError: remoteErrors("GetConfiguration", map[string]ggerr.Kind{CodeResourceNotFound: ggerr.NoEntry}),
		OnResult: func(_ context.Context, result object.Map) error {
			v, err := configValue(result, keyPath)
			if err != nil {
				return err
			}
			return onValue(v)
		},
	})
	return err
}

// configValue extracts the value of a GetConfiguration response. A single
// non-map entry named after the final key is unwrapped, matching how
// leaf values have always been returned.
func configValue(resp object.Map, keyPath []string) (object.Value, error) {
	var value object.Value
	if err := object.ValidateMap(resp, object.Required("value", object.TypeMap, &value)); err != nil {
		return nil, ggerr.Errorf(ggerr.Invalid, "ipc: failed validating configuration response: %w", err)
	}
	m := value.(object.Map)
	if len(keyPath) > 0 && len(m) == 1 &&
		string(m[0].Key) == keyPath[len(keyPath)-1] &&
		object.TypeOf(m[0].Val) != object.TypeMap {
		return m[0].Val, nil
	}
	return m, nil
}

// GetConfig reads the configuration value at keyPath of componentName, or
// of the calling component when componentName is empty. When a is non-nil
// the value is copied into it and ggerr.NoMem reports that it did not fit.
// A missing key is ggerr.NoEntry.
func (c *Client) GetConfig(ctx context.Context, keyPath []string, componentName string, a *arena.Arena) (object.Value, error) {
	var out object.Value
	err := c.getConfig(ctx, keyPath, componentName, func(v object.Value) error {
		if a != nil {
			if err := a.ClaimValue(&v); err != nil {
				return err
			}
		}
		out = v
		return nil
	})
	if err != nil {
		return object.Null{}, err
	}
	return out, nil
}

// GetConfigString reads a configuration value that must be a string.
func (c *Client) GetConfigString(ctx context.Context, keyPath []string, componentName string) (string, error) {
	var out string
	err := c.getConfig(ctx, keyPath, componentName, func(v object.Value) error {
		b, ok := v.(object.Buffer)
		if !ok {
			return ggerr.Errorf(ggerr.Failure, "ipc: config value is %s, not a string", object.TypeOf(v))
		}
		out = string(b)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// UpdateConfig merges value into the calling component's configuration at
// keyPath. A non-map value is merged as the final key of keyPath. A zero
// timestamp is sent as 0; timestamps before the epoch are ggerr.Unsupported.
func (c *Client) UpdateConfig(ctx context.Context, keyPath []string, timestamp time.Time, value object.Value) error {
	var ts float64
	if !timestamp.IsZero() {
		if timestamp.Before(time.Unix(0, 0)) {
			return ggerr.Errorf(ggerr.Unsupported, "ipc: timestamp %s is negative", timestamp)
		}
		ts = float64(timestamp.Unix()) + float64(timestamp.Nanosecond())*1e-9
	}
	if value == nil {
		value = object.Null{}
	}
	if object.TypeOf(value) != object.TypeMap {
		if len(keyPath) == 0 {
			return ggerr.Errorf(ggerr.Invalid, "ipc: root configuration object must be a map")
		}
		last := len(keyPath) - 1
		value = object.NewMap(object.Pair(keyPath[last], value))
		keyPath = keyPath[:last]
	}
	path, err := keyPathList(keyPath)
	if err != nil {
		return err
	}
	args := object.NewMap(
		object.Pair("keyPath", path),
		object.Pair("timestamp", object.Float64(ts)),
		object.Pair("valueToMerge", value),
	)
	_, err = c.Call(ctx, opUpdateConfiguration, smtUpdateConfigurationRequest, args, &CallOptions{
		OnError: remoteErrors("UpdateConfiguration", nil),
	})
	return err
}

// SubscribeToConfigurationUpdate subscribes to changes under keyPath of
// componentName, or of the calling component when componentName is empty.
func (c *Client) SubscribeToConfigurationUpdate(ctx context.Context, componentName string, keyPath []string, onUpdate ConfigUpdateFunc) (Handle, error) {
	var entries []object.KV
	if componentName != "" {
		entries = append(entries, object.Pair("componentName", object.Buf(componentName)))
	}
	path, err := keyPathList(keyPath)
	if err != nil {
		return 0, err
	}
	entries = append(entries, object.Pair("keyPath", path))
	kinds := map[string]ggerr.Kind{
		CodeServiceError:     ggerr.Invalid,
		CodeResourceNotFound: ggerr.NoEntry,
	}
	return c.Subscribe(ctx, opSubscribeToConfigurationUpdate, smtSubscribeToConfigurationUpdate, object.NewMap(entries...),
		&CallOptions{OnError: remoteErrors("SubscribeToConfigurationUpdate", kinds)},
		func(ctx context.Context, h Handle, smt string, data object.Map) error {
			name, path, err := parseConfigUpdate(smt, data)
			if err != nil {
				return err
			}
			onUpdate(ctx, name, path, h)
			return nil
		})
}

func parseConfigUpdate(smt string, data object.Map) (string, []string, error) {
	if err := expectModel(smt, smtConfigurationUpdateEvents); err != nil {
		return "", nil, err
	}
	var event object.Value
	if err := object.ValidateMap(data, object.Required("configurationUpdateEvent", object.TypeMap, &event)); err != nil {
		return "", nil, invalidEvent("configuration update response", err)
	}
	var name, path object.Value
	err := object.ValidateMap(event.(object.Map),
		object.Required("componentName", object.TypeBuffer, &name),
		object.Required("keyPath", object.TypeList, &path),
	)
	if err != nil {
		return "", nil, invalidEvent("configuration update event", err)
	}
	list := path.(object.List)
	if err := object.ListTypeCheck(list, object.TypeBuffer); err != nil {
		return "", nil, invalidEvent("configuration update key path", err)
	}
	keys := make([]string, len(list))
	for i, k := range list {
		keys[i] = string(k.(object.Buffer))
	}
	return string(name.(object.Buffer)), keys, nil
}

// PrivateGetSystemConfig reads a supervisor system configuration string.
func (c *Client) PrivateGetSystemConfig(ctx context.Context, key string) (string, error) {
	var out string
	args := object.NewMap(object.Pair("key", object.Buf(key)))
	_, err := c.Call(ctx, opPrivateGetSystemConfig, smtPrivateGetSystemConfigRequest, args, &CallOptions{
		OnError: remoteErrors("PrivateGetSystemConfig", nil),
		OnResult: func(_ context.Context, result object.Map) error {
			var value object.Value
			if err := object.ValidateMap(result, object.Required("value", object.TypeAny, &value)); err != nil {
				return ggerr.Errorf(ggerr.Invalid, "ipc: failed validating system config response: %w", err)
			}
			b, ok := value.(object.Buffer)
			if !ok {
				return ggerr.Errorf(ggerr.Failure, "ipc: system config value is %s, not a string", object.TypeOf(value))
			}
			out = string(b)
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
