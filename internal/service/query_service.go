package service

import (
	"context"

	"aec-rag-go/internal/model"
	"aec-rag-go/internal/query"
)

// QueryService 定义了检索问答操作，由 query.Engine 实现。
type QueryService interface {
	Ask(ctx context.Context, req query.Request) (*model.Answer, error)
	AskStream(ctx context.Context, req query.Request, onDelta func(string) error) (*model.Answer, error)
}

var _ QueryService = (*query.Engine)(nil)
