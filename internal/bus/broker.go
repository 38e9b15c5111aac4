package bus

import (
	"context"
	"encoding/json"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

const (
	CodePublishFailed xerrors.Code = "BUS_PUBLISH_FAILED"
	CodeDecodeFailed  xerrors.Code = "BUS_DECODE_FAILED"
)

func init() {
	xerrors.Register(CodePublishFailed, xerrors.Attributes{Message: "publish to message bus failed", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true})
	xerrors.Register(CodeDecodeFailed, xerrors.Attributes{Message: "malformed bus message", Severity: xerrors.SeverityWarning})
}

// Handler 处理一条消息。返回错误表示处理失败，消息会进入死信。
type Handler func(ctx context.Context, body []byte) error

// Publisher 向队列投递消息。
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Broker 是消息总线的最小抽象。
type Broker interface {
	Publisher
	// Consume 阻塞消费 queue，直到 ctx 结束或底层连接出错。
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// PublishJSON 序列化 v 后投递。失败以 BUS_PUBLISH_FAILED 返回。
func PublishJSON(ctx context.Context, p Publisher, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(CodePublishFailed, err, "encode message for "+queue)
	}
	if err := p.Publish(ctx, queue, body); err != nil {
		return xerrors.Wrap(CodePublishFailed, err, "publish to "+queue, xerrors.WithMetadata("queue", queue))
	}
	return nil
}

// Decode 解码消息体，失败以 BUS_DECODE_FAILED 返回。
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return xerrors.Wrap(CodeDecodeFailed, err, "")
	}
	return nil
}
