// Package apperr 定义了整个系统共享的错误分类。
//
// 所有外部依赖（抽取、向量化、实体识别、补全、索引）返回的错误都在适配器边界
// 被归入四类之一：可重试的瞬时错误、不可重试的输入错误、一致性错误和配置错误。
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransientProvider 表示可以带退避重试的外部服务错误（超时、限流、服务不可用）。
	ErrTransientProvider = errors.New("transient provider error")
	// ErrTerminalInput 表示输入本身有问题，重试不会改变结果，只能人工重新提交。
	ErrTerminalInput = errors.New("terminal input error")
	// ErrConsistency 表示租约冲突或部分提交，由下一轮扫描对账修复。
	ErrConsistency = errors.New("consistency error")
	// ErrConfiguration 表示启动阶段的配置错误，进程应直接退出。
	ErrConfiguration = errors.New("configuration error")
)

// 阶段错误，配合 StageError 使用 errors.Is 判断失败发生在哪个阶段。
var (
	ErrExtractionFailed = errors.New("extraction failed")
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrMetadataFailed   = errors.New("metadata enrichment failed")
	ErrIndexingFailed   = errors.New("indexing failed")
)

// 查询路径的错误。
var (
	ErrAnswerGenerationFailed = errors.New("answer generation failed")
	ErrRetrievalFailed        = errors.New("retrieval failed")
)

var (
	ErrLeaseHeld     = fmt.Errorf("%w: document lease held by another worker", ErrConsistency)
	ErrLeaseLost     = fmt.Errorf("%w: document lease lost", ErrConsistency)
	ErrPartialCommit = fmt.Errorf("%w: partial commit", ErrConsistency)
)

// Class 是错误的粗粒度分类。
type Class int

const (
	ClassUnknown Class = iota
	ClassTransient
	ClassTerminal
	ClassConsistency
	ClassConfiguration
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	case ClassConsistency:
		return "consistency"
	case ClassConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ClassOf 返回 err 所属的分类。nil 返回 ClassUnknown。
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrTerminalInput):
		return ClassTerminal
	case errors.Is(err, ErrConsistency):
		return ClassConsistency
	case errors.Is(err, ErrTransientProvider):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassUnknown
	}
}

// IsRetryable 判断错误是否应当自动重试。
// 未分类的基础设施错误（数据库、网络）按可重试处理。
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassUnknown:
		return err != nil
	default:
		return false
	}
}

// Configuration 构造一个配置错误。
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
