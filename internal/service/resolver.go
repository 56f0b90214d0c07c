// resolver.go — выбор копии и диапазона для скачивания.
package service

import (
	"context"
	"io"

	"github.com/bigkaa/goartstore/access-point/internal/collection"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Content — открытое для чтения содержимое копии.
type Content struct {
	// Reader — поток байт диапазона; закрывает вызывающий
	Reader         io.ReadCloser
	Representation model.Representation
	// Offset, Length — фактический отдаваемый диапазон
	Offset int64
	Length int64
}

// Resolver находит копию по селектору и открывает диапазон её байт.
type Resolver struct {
	engine *collection.Engine
}

// NewResolver создаёт Resolver.
func NewResolver(engine *collection.Engine) *Resolver {
	return &Resolver{engine: engine}
}

// Resolve открывает копию selector файла file в диапазоне rng.
// Пустой селектор — основная копия. Неизвестный селектор → ErrNotFound,
// некорректный диапазон → ErrInvalidRange.
func (r *Resolver) Resolve(ctx context.Context, file *model.FileRecord, selector string, rng model.ByteRange) (*Content, error) {
	if selector == "" {
		selector = model.MasterCopy
	}

	rep, ok := file.Copy(selector)
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "Invalid selector: %s", selector)
	}
	offset, length, err := rng.Resolve(rep.Size)
	if err != nil {
		return nil, err
	}

	reader, err := r.engine.Get(ctx, file, selector, rng)
	if err != nil {
		return nil, err
	}
	return &Content{
		Reader:         reader,
		Representation: rep,
		Offset:         offset,
		Length:         length,
	}, nil
}
