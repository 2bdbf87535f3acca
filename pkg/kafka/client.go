// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"aec-rag-go/internal/config"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskHandler 接收一条文档任务。返回错误时不提交 offset，消息会被重新投递。
type TaskHandler func(ctx context.Context, task tasks.DocumentTask) error

// Producer 把文档任务写入 Kafka，消息键为 document_id，保证同一文档的任务进入同一分区。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger:            errorLogger(),
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Enqueue 发送一个文档处理任务到 Kafka。
func (p *Producer) Enqueue(ctx context.Context, task tasks.DocumentTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// errorLogger 把 kafka-go 内部的错误日志接到 zap 上。
func errorLogger() kafka.Logger {
	sugar := log.Logger().Sugar()
	return kafka.LoggerFunc(func(msg string, args ...interface{}) {
		sugar.Errorf("[Kafka] "+msg, args...)
	})
}

func newReader(cfg config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers(cfg.Brokers),
		Topic:       topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		ErrorLogger: errorLogger(),
	})
}

// StartConsumer 消费文档任务直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handle TaskHandler) error {
	r := newReader(cfg, cfg.Topic)
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}

		var task tasks.DocumentTask
		if err := json.Unmarshal(m.Value, &task); err != nil || task.SourceURI == "" {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if err := handle(ctx, task); err != nil {
			log.Errorf("分派文档任务失败: document=%s, error: %v", task.DocumentID, err)
			// 不提交 offset，交给消费组重新投递
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
