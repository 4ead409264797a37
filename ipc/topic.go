package ipc

import (
	"context"

	"github.com/danmuck/ggipc/internal/b64"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

const (
	opPublishToTopic         = "aws.greengrass#PublishToTopic"
	smtPublishToTopicRequest = "aws.greengrass#PublishToTopicRequest"
	opSubscribeToTopic       = "aws.greengrass#SubscribeToTopic"
	smtSubscribeToTopicReq   = "aws.greengrass#SubscribeToTopicRequest"
	smtSubscriptionResponse  = "aws.greengrass#SubscriptionResponseMessage"
)

// TopicMessage is one local pub/sub message. Exactly one of JSON and
// Binary is set. Both are only valid during the callback.
type TopicMessage struct {
	Topic  string
	JSON   object.Map
	Binary []byte
}

// IsJSON reports whether the message was published as JSON.
func (m TopicMessage) IsJSON() bool {
	return m.JSON != nil
}

// TopicFunc receives local pub/sub messages.
type TopicFunc func(ctx context.Context, msg TopicMessage, h Handle)

func (c *Client) publishToTopic(ctx context.Context, topic string, publishMessage object.Map) error {
	args := object.NewMap(
		object.Pair("topic", object.Buf(topic)),
		object.Pair("publishMessage", publishMessage),
	)
	_, err := c.Call(ctx, opPublishToTopic, smtPublishToTopicRequest, args, &CallOptions{
		OnError: remoteErrors("PublishToTopic", unauthorizedKinds),
	})
	return err
}

// PublishToTopicJSON publishes payload as a JSON message on a local topic.
func (c *Client) PublishToTopicJSON(ctx context.Context, topic string, payload object.Map) error {
	if payload == nil {
		payload = object.Map{}
	}
	msg := object.NewMap(object.Pair("jsonMessage", object.NewMap(object.Pair("message", payload))))
	return c.publishToTopic(ctx, topic, msg)
}

// PublishToTopicBinaryB64 publishes an already base64-encoded binary
// message on a local topic.
func (c *Client) PublishToTopicBinaryB64(ctx context.Context, topic string, b64Payload []byte) error {
	msg := object.NewMap(object.Pair("binaryMessage", object.NewMap(object.Pair("message", object.Buffer(b64Payload)))))
	return c.publishToTopic(ctx, topic, msg)
}

// PublishToTopicBinary base64-encodes payload and publishes it on a local
// topic. The encoded form must fit the client's message buffer.
func (c *Client) PublishToTopicBinary(ctx context.Context, topic string, payload []byte) error {
	return c.withBase64(ctx, "PublishToTopic", payload, func(encoded []byte) error {
		return c.PublishToTopicBinaryB64(ctx, topic, encoded)
	})
}

// SubscribeToTopic subscribes to a local topic. Binary messages are
// delivered decoded.
func (c *Client) SubscribeToTopic(ctx context.Context, topic string, onMessage TopicFunc) (Handle, error) {
	args := object.NewMap(object.Pair("topic", object.Buf(topic)))
	return c.Subscribe(ctx, opSubscribeToTopic, smtSubscribeToTopicReq, args,
		&CallOptions{OnError: remoteErrors("SubscribeToTopic", unauthorizedKinds)},
		func(ctx context.Context, h Handle, smt string, data object.Map) error {
			msg, err := parseTopicMessage(smt, data)
			if err != nil {
				return err
			}
			onMessage(ctx, msg, h)
			return nil
		})
}

func parseTopicMessage(smt string, data object.Map) (TopicMessage, error) {
	if err := expectModel(smt, smtSubscriptionResponse); err != nil {
		return TopicMessage{}, err
	}
	var jsonMsg, binaryMsg object.Value
	err := object.ValidateMap(data,
		object.Optional("jsonMessage", object.TypeMap, &jsonMsg),
		object.Optional("binaryMessage", object.TypeMap, &binaryMsg),
	)
	if err != nil {
		return TopicMessage{}, invalidEvent("pubsub subscription response", err)
	}
	if (jsonMsg == nil) == (binaryMsg == nil) {
		return TopicMessage{}, invalidEvent("pubsub subscription response", nil)
	}

	isJSON := jsonMsg != nil
	inner, want := binaryMsg, object.TypeBuffer
	if isJSON {
		inner, want = jsonMsg, object.TypeMap
	}
	var message, msgContext object.Value
	err = object.ValidateMap(inner.(object.Map),
		object.Required("message", want, &message),
		object.Required("context", object.TypeMap, &msgContext),
	)
	if err != nil {
		return TopicMessage{}, invalidEvent("pubsub subscription response", err)
	}
	var topic object.Value
	if err := object.ValidateMap(msgContext.(object.Map), object.Required("topic", object.TypeBuffer, &topic)); err != nil {
		return TopicMessage{}, invalidEvent("pubsub subscription response", err)
	}

	msg := TopicMessage{Topic: string(topic.(object.Buffer))}
	if isJSON {
		msg.JSON = message.(object.Map)
		if msg.JSON == nil {
			msg.JSON = object.Map{}
		}
		return msg, nil
	}
	payload := []byte(message.(object.Buffer))
	if !b64.DecodeInPlace(&payload) {
		log.Error().Str("topic", msg.Topic).Msg("ipc: failed to decode pubsub subscription payload")
		return TopicMessage{}, invalidEvent("pubsub subscription payload", nil)
	}
	msg.Binary = payload
	return msg, nil
}
