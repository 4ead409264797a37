package ipc

import (
	"context"

	"github.com/danmuck/ggipc/internal/b64"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

const (
	opPublishToIoTCore         = "aws.greengrass#PublishToIoTCore"
	smtPublishToIoTCoreRequest = "aws.greengrass#PublishToIoTCoreRequest"
	opSubscribeToIoTCore       = "aws.greengrass#SubscribeToIoTCore"
	smtSubscribeToIoTCoreReq   = "aws.greengrass#SubscribeToIoTCoreRequest"
	smtIoTCoreMessage          = "aws.greengrass#IoTCoreMessage"
)

// IoTCoreFunc receives cloud MQTT messages. payload is decoded and only
// valid during the callback.
type IoTCoreFunc func(ctx context.Context, topic string, payload []byte, h Handle)

// PublishToIoTCoreB64 publishes an already base64-encoded payload to an
// AWS IoT Core MQTT topic.
func (c *Client) PublishToIoTCoreB64(ctx context.Context, topicName string, b64Payload []byte, qos uint8) error {
	q, err := qosBuffer(qos)
	if err != nil {
		return err
	}
	args := object.NewMap(
		object.Pair("topicName", object.Buf(topicName)),
		object.Pair("payload", object.Buffer(b64Payload)),
		object.Pair("qos", q),
	)
	_, err = c.Call(ctx, opPublishToIoTCore, smtPublishToIoTCoreRequest, args, &CallOptions{
		OnError: remoteErrors("PublishToIoTCore", unauthorizedKinds),
	})
	return err
}

// PublishToIoTCore base64-encodes payload and publishes it to an AWS IoT
// Core MQTT topic. The encoded form must fit the client's message buffer,
// otherwise the error is ggerr.NoMem.
func (c *Client) PublishToIoTCore(ctx context.Context, topicName string, payload []byte, qos uint8) error {
	return c.withBase64(ctx, "PublishToIoTCore", payload, func(encoded []byte) error {
		return c.PublishToIoTCoreB64(ctx, topicName, encoded, qos)
	})
}

// SubscribeToIoTCore subscribes to an AWS IoT Core MQTT topic filter.
func (c *Client) SubscribeToIoTCore(ctx context.Context, topicFilter string, qos uint8, onMessage IoTCoreFunc) (Handle, error) {
	q, err := qosBuffer(qos)
	if err != nil {
		return 0, err
	}
	args := object.NewMap(
		object.Pair("topicName", object.Buf(topicFilter)),
		object.Pair("qos", q),
	)
	return c.Subscribe(ctx, opSubscribeToIoTCore, smtSubscribeToIoTCoreReq, args,
		&CallOptions{OnError: remoteErrors("SubscribeToIoTCore", unauthorizedKinds)},
		func(ctx context.Context, h Handle, smt string, data object.Map) error {
			topic, payload, err := parseIoTCoreMessage(smt, data)
			if err != nil {
				return err
			}
			onMessage(ctx, topic, payload, h)
			return nil
		})
}

func parseIoTCoreMessage(smt string, data object.Map) (string, []byte, error) {
	if err := expectModel(smt, smtIoTCoreMessage); err != nil {
		return "", nil, err
	}
	var message object.Value
	if err := object.ValidateMap(data, object.Required("message", object.TypeMap, &message)); err != nil {
		return "", nil, invalidEvent("IoT Core subscription response", err)
	}
	var topic, payload object.Value
	err := object.ValidateMap(message.(object.Map),
		object.Required("topicName", object.TypeBuffer, &topic),
		object.Required("payload", object.TypeBuffer, &payload),
	)
	if err != nil {
		return "", nil, invalidEvent("IoT Core subscription response", err)
	}
	buf := []byte(payload.(object.Buffer))
	if !b64.DecodeInPlace(&buf) {
		log.Error().Msg("ipc: failed to decode IoT Core subscription payload")
		return "", nil, invalidEvent("IoT Core subscription payload", nil)
	}
	return string(topic.(object.Buffer)), buf, nil
}
