package apperr

import "fmt"

// StageError 记录失败发生的流水线阶段。
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrEmbeddingFailed) 这类判断按阶段生效。
func (e *StageError) Is(target error) bool {
	return stageSentinel(e.Stage) == target && target != nil
}

func stageSentinel(stage string) error {
	switch stage {
	case "extracting", "chunking":
		return ErrExtractionFailed
	case "embedding":
		return ErrEmbeddingFailed
	case "enriching_metadata":
		return ErrMetadataFailed
	case "indexing":
		return ErrIndexingFailed
	}
	return nil
}

// AtStage 用阶段信息包装 err；err 为 nil 时返回 nil。
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
