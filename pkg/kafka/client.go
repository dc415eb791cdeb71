// Package kafka 提供了通过 Kafka 投递后台任务的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// Producer 将标题任务写入 Kafka，实现 tasks.Queue。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 发送一个标题任务，以会话 ID 作为消息 key 保证同一会话落在同一分区。
func (p *Producer) Enqueue(ctx context.Context, task tasks.TitleTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ConversationID),
		Value: taskBytes,
	})
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动消费者处理标题任务，直到 ctx 取消。
// 先提交 offset 再处理，保证每条任务至多被处理一次。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor tasks.Processor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			// 未提交则不处理，交由下次投递
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			continue
		}

		task, err := decodeTask(m.Value)
		if err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			continue
		}

		if err := processor.Process(ctx, task); err != nil {
			log.Errorf("处理标题任务失败: conversation=%s, err=%v", task.ConversationID, err)
			continue
		}
		log.Infof("标题任务处理成功: conversation=%s", task.ConversationID)
	}
}

func decodeTask(b []byte) (tasks.TitleTask, error) {
	var task tasks.TitleTask
	if err := json.Unmarshal(b, &task); err != nil {
		return task, err
	}
	if task.ConversationID == "" {
		return task, fmt.Errorf("task has no conversation id")
	}
	return task, nil
}
