// routes.go — RPC-таблицы маршрутов коллекций.
package rpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc/peer"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/service"
)

// Method — один унарный метод: конструктор запроса и обработчик.
type Method struct {
	NewRequest func() Message
	Handle     func(ctx context.Context, req Message) (Message, error)
}

// ResourceConfig — коллекция, для которой строятся методы.
type ResourceConfig struct {
	Name string
}

// AccessPoints возвращает методы put/get/del коллекции.
// Ключ — "<коллекция>/<метод>".
func AccessPoints(ap *service.AccessPoint, holds *service.Holds, cfg ResourceConfig) map[string]Method {
	return map[string]Method{
		cfg.Name + "/put": {
			NewRequest: func() Message { return new(PutRequest) },
			Handle: func(ctx context.Context, req Message) (Message, error) {
				r := req.(*PutRequest)
				hold, err := holds.Acquire(ctx, peerAddr(ctx))
				if err != nil {
					return nil, err
				}
				defer hold.Release()

				res, err := ap.Upload(ctx, service.UploadRequest{
					Collection: cfg.Name,
					ID:         r.ID,
					Selector:   r.Selector,
					Data:       r.Data,
					Offset:     r.Offset,
					Hold:       hold,
				})
				if err != nil {
					return nil, err
				}
				return &PutResponse{
					FileID:         res.FileID,
					Copy:           res.Copy,
					BytesWritten:   res.BytesWritten,
					Size:           res.Size,
					Complete:       res.Complete,
					Representation: res.Representation,
				}, nil
			},
		},
		cfg.Name + "/get": {
			NewRequest: func() Message { return new(GetRequest) },
			Handle: func(ctx context.Context, req Message) (Message, error) {
				r := req.(*GetRequest)
				hold, err := holds.Acquire(ctx, peerAddr(ctx))
				if err != nil {
					return nil, err
				}
				defer hold.Release()

				content, err := ap.Download(ctx, service.DownloadRequest{
					Collection: cfg.Name,
					ID:         r.ID,
					Selector:   r.Selector,
					Range:      model.ByteRange{Start: r.Start, End: r.End},
					Hold:       hold,
				})
				if err != nil {
					return nil, err
				}
				defer content.Reader.Close()

				data, err := io.ReadAll(content.Reader)
				if err != nil {
					return nil, fmt.Errorf("ошибка чтения копии: %w", err)
				}
				return &GetResponse{
					Data:        data,
					Name:        content.Representation.Name,
					ContentType: content.Representation.ContentType,
					Size:        content.Representation.Size,
					Offset:      content.Offset,
				}, nil
			},
		},
		cfg.Name + "/del": {
			NewRequest: func() Message { return new(DelRequest) },
			Handle: func(ctx context.Context, req Message) (Message, error) {
				r := req.(*DelRequest)
				hold, err := holds.Acquire(ctx, peerAddr(ctx))
				if err != nil {
					return nil, err
				}
				defer hold.Release()

				if err := ap.Delete(ctx, service.DeleteRequest{Collection: cfg.Name, ID: r.ID, Hold: hold}); err != nil {
					return nil, err
				}
				return &DelResponse{}, nil
			},
		},
	}
}

// InsertPoint возвращает метод создания файлов коллекции.
func InsertPoint(ap *service.AccessPoint, cfg ResourceConfig) map[string]Method {
	return map[string]Method{
		cfg.Name + "/insert": {
			NewRequest: func() Message { return new(InsertRequest) },
			Handle: func(ctx context.Context, req Message) (Message, error) {
				r := req.(*InsertRequest)
				if r.Size == nil {
					return nil, model.NewError(model.ErrBadRequest, "Field 'size' is required")
				}
				rec, err := ap.Insert(ctx, service.InsertRequest{
					Collection:  cfg.Name,
					ID:          r.ID,
					Selector:    r.Selector,
					Name:        r.Name,
					ContentType: r.ContentType,
					Size:        *r.Size,
				})
				if err != nil {
					return nil, err
				}
				return &InsertResponse{
					ID:         rec.ID,
					Collection: rec.Collection,
					Owner:      rec.Owner,
					Pending:    rec.Pending,
				}, nil
			},
		},
	}
}

// peerAddr — адрес соединения клиента, ключ удержания.
func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
