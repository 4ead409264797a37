package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/config"
	"github.com/danmuck/ggipc/object"
)

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client used by the package-level
// functions, creating it with the default configuration on first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(config.DefaultClient())
	}
	return defaultClient
}

// SetDefault replaces the process-wide client and returns the previous one.
func SetDefault(c *Client) *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultClient
	defaultClient = c
	return prev
}

// Connect connects the default client using the socket path and auth token
// from the environment.
func Connect(ctx context.Context) error {
	return Default().Connect(ctx)
}

func ConnectWithToken(ctx context.Context, path, token string) error {
	return Default().ConnectWithToken(ctx, path, token)
}

func ConnectByName(ctx context.Context, path, componentName string) (string, error) {
	return Default().ConnectByName(ctx, path, componentName)
}

func Disconnect() {
	Default().Disconnect()
}

func Call(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions) (object.Map, error) {
	return Default().Call(ctx, operation, serviceModelType, params, opts)
}

func Subscribe(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions, onEvent SubscriptionFunc) (Handle, error) {
	return Default().Subscribe(ctx, operation, serviceModelType, params, opts, onEvent)
}

func CloseSubscription(h Handle) error {
	return Default().CloseSubscription(h)
}

func PublishToTopicJSON(ctx context.Context, topic string, payload object.Map) error {
	return Default().PublishToTopicJSON(ctx, topic, payload)
}

func PublishToTopicBinary(ctx context.Context, topic string, payload []byte) error {
	return Default().PublishToTopicBinary(ctx, topic, payload)
}

func PublishToTopicBinaryB64(ctx context.Context, topic string, b64Payload []byte) error {
	return Default().PublishToTopicBinaryB64(ctx, topic, b64Payload)
}

func SubscribeToTopic(ctx context.Context, topic string, onMessage TopicFunc) (Handle, error) {
	return Default().SubscribeToTopic(ctx, topic, onMessage)
}

func PublishToIoTCore(ctx context.Context, topicName string, payload []byte, qos uint8) error {
	return Default().PublishToIoTCore(ctx, topicName, payload, qos)
}

func PublishToIoTCoreB64(ctx context.Context, topicName string, b64Payload []byte, qos uint8) error {
	return Default().PublishToIoTCoreB64(ctx, topicName, b64Payload, qos)
}

func SubscribeToIoTCore(ctx context.Context, topicFilter string, qos uint8, onMessage IoTCoreFunc) (Handle, error) {
	return Default().SubscribeToIoTCore(ctx, topicFilter, qos, onMessage)
}

func GetConfig(ctx context.Context, keyPath []string, componentName string, a *arena.Arena) (object.Value, error) {
	return Default().GetConfig(ctx, keyPath, componentName, a)
}

func GetConfigString(ctx context.Context, keyPath []string, componentName string) (string, error) {
	return Default().GetConfigString(ctx, keyPath, componentName)
}

func UpdateConfig(ctx context.Context, keyPath []string, timestamp time.Time, value object.Value) error {
	return Default().UpdateConfig(ctx, keyPath, timestamp, value)
}

func SubscribeToConfigurationUpdate(ctx context.Context, componentName string, keyPath []string, onUpdate ConfigUpdateFunc) (Handle, error) {
	return Default().SubscribeToConfigurationUpdate(ctx, componentName, keyPath, onUpdate)
}

func UpdateState(ctx context.Context, state ComponentState) error {
	return Default().UpdateState(ctx, state)
}

func RestartComponent(ctx context.Context, componentName string) error {
	return Default().RestartComponent(ctx, componentName)
}

func PrivateGetSystemConfig(ctx context.Context, key string) (string, error) {
	return Default().PrivateGetSystemConfig(ctx, key)
}
