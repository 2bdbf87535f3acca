// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// Trigger 记录任务的来源。
type Trigger string

const (
	TriggerFullScan    Trigger = "full_scan"
	TriggerIncremental Trigger = "incremental"
	TriggerEvent       Trigger = "event"
	TriggerUpload      Trigger = "upload"
	TriggerResubmit    Trigger = "resubmit"
	TriggerReconcile   Trigger = "reconcile"
)

// DocumentTask 请求编排器处理一个文档。
// ContentHash 是观察时的内容指纹；为空时由编排器读取对象后计算。
type DocumentTask struct {
	DocumentID  string    `json:"document_id"`
	SourceURI   string    `json:"source_uri"`
	ContentHash string    `json:"content_hash,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Category    string    `json:"category,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	Trigger     Trigger   `json:"trigger"`
	// Force 跳过内容未变化时的短路。
	Force bool `json:"force,omitempty"`
}
