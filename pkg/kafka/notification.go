package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"aec-rag-go/internal/config"
	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"
)

// bucketEvent 是 MinIO 通过 Kafka 目标发送的桶通知（S3 事件格式）。
type bucketEvent struct {
	EventName string `json:"EventName"`
	Records   []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseBucketNotification 把一条 MinIO 桶通知转换为对象事件。
func ParseBucketNotification(data []byte) ([]provider.ObjectEvent, error) {
	var ev bucketEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	var out []provider.ObjectEvent
	for _, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("对象键解码失败: %w", err)
		}
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		kind := provider.ObjectUpserted
		switch {
		case strings.HasPrefix(rec.EventName, "s3:ObjectRemoved"):
			kind = provider.ObjectRemoved
		case strings.HasPrefix(rec.EventName, "s3:ObjectCreated"):
		default:
			continue
		}
		out = append(out, provider.ObjectEvent{
			URI:  "minio://" + rec.S3.Bucket.Name + "/" + key,
			Kind: kind,
		})
	}
	return out, nil
}

// StartNotificationConsumer 消费 MinIO 桶通知并回调 onEvent，直到 ctx 结束。
func StartNotificationConsumer(ctx context.Context, cfg config.KafkaConfig, onEvent func(context.Context, provider.ObjectEvent) error) error {
	r := newReader(cfg, cfg.NotificationTopic)
	defer r.Close()
	log.Infof("Kafka 通知消费者已启动，正在监听主题 '%s'", cfg.NotificationTopic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		events, err := ParseBucketNotification(m.Value)
		if err != nil {
			log.Warnf("无法解析桶通知: %v", err)
		}
		for _, ev := range events {
			if err := onEvent(ctx, ev); err != nil {
				log.Errorf("处理桶通知失败: uri=%s, error: %v", ev.URI, err)
				return err
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
