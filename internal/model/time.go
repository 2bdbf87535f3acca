package model

import (
	"fmt"
	"time"
)

// LocalTime is a custom time type to format time as "YYYY-MM-DD HH:MM:SS".
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(timeFormat))
	return []byte(formatted), nil
}

// UnmarshalJSON 解析 MarshalJSON 的输出，null 解析为零值。
func (t *LocalTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*t = LocalTime(time.Time{})
		return nil
	}
	parsed, err := time.ParseInLocation(`"`+timeFormat+`"`, s, time.Local)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}

// DocumentStatus 是文档状态查询（HTTP 与 CLI）的输出。
type DocumentStatus struct {
	DocumentID    string    `json:"documentId"`
	SourceURI     string    `json:"sourceUri"`
	Category      string    `json:"category"`
	State         State     `json:"state"`
	FailedStage   State     `json:"failedStage,omitempty"`
	RetryCount    int       `json:"retryCount"`
	LastError     *string   `json:"lastError"`
	ErrorClass    string    `json:"errorClass,omitempty"`
	ContentHash   string    `json:"contentHash"`
	ChunkCount    int       `json:"chunkCount"`
	LastSeenAt    LocalTime `json:"lastSeenAt"`
	NextAttemptAt LocalTime `json:"nextAttemptAt"`
	UpdatedAt     LocalTime `json:"updatedAt"`
}

// StatusOf 把 PipelineRecord 转换为对外的状态视图。
func StatusOf(rec *PipelineRecord) DocumentStatus {
	st := DocumentStatus{
		DocumentID:  rec.DocumentID,
		SourceURI:   rec.SourceURI,
		Category:    rec.Category,
		State:       rec.State,
		FailedStage: rec.FailedStage,
		RetryCount:  rec.RetryCount,
		LastError:   rec.LastError,
		ErrorClass:  rec.ErrorClass,
		ContentHash: rec.ContentHash,
		ChunkCount:  rec.ChunkCount,
		LastSeenAt:  LocalTime(rec.LastSeenAt),
		UpdatedAt:   LocalTime(rec.UpdatedAt),
	}
	if rec.NextAttemptAt != nil {
		st.NextAttemptAt = LocalTime(*rec.NextAttemptAt)
	}
	return st
}
