package usecase

import "context"

type SearchUC interface {
	SearchByImage(ctx context.Context, req *SearchByImageReq) (*SearchByImageRes, error)
}

type IngestUC interface {
	ProcessPendingMedia(ctx context.Context) (*ProcessPendingRes, error)
	DeleteMedia(ctx context.Context, req *DeleteMediaReq) error
}
