// messages.go — типизированные сообщения files.proto и их перевод
// в динамические protobuf-сообщения.
package rpc

import (
	"context"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Message — сообщение схемы files.proto.
type Message interface {
	descriptor() protoreflect.MessageDescriptor
	encode(m protoreflect.Message)
	decode(m protoreflect.Message)
}

func toProto(msg Message) *dynamicpb.Message {
	pm := dynamicpb.NewMessage(msg.descriptor())
	msg.encode(pm.ProtoReflect())
	return pm
}

// Invoke вызывает унарный метод и декодирует ответ в reply.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req, reply Message, opts ...grpc.CallOption) error {
	out := dynamicpb.NewMessage(reply.descriptor())
	if err := cc.Invoke(ctx, method, toProto(req), out, opts...); err != nil {
		return err
	}
	reply.decode(out.ProtoReflect())
	return nil
}

// PutRequest — чанк копии.
type PutRequest struct {
	ID       string
	Selector string
	Data     []byte
	Offset   *int64
}

func (*PutRequest) descriptor() protoreflect.MessageDescriptor { return descriptorOf("PutRequest") }

func (r *PutRequest) encode(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "selector", r.Selector)
	setBytes(m, "data", r.Data)
	setOptInt(m, "offset", r.Offset)
}

func (r *PutRequest) decode(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Selector = getString(m, "selector")
	r.Data = getBytes(m, "data")
	r.Offset = getOptInt(m, "offset")
}

// PutResponse — состояние сборки после записи чанка.
type PutResponse struct {
	FileID       string
	Copy         string
	BytesWritten int64
	Size         int64
	Complete     bool
	// Representation — опубликованная копия, только при Complete
	Representation *model.Representation
}

func (*PutResponse) descriptor() protoreflect.MessageDescriptor { return descriptorOf("PutResponse") }

func (r *PutResponse) encode(m protoreflect.Message) {
	setString(m, "file_id", r.FileID)
	setString(m, "copy", r.Copy)
	setInt(m, "bytes_written", r.BytesWritten)
	setInt(m, "size", r.Size)
	setBool(m, "complete", r.Complete)
	if r.Representation != nil {
		encodeRepresentation(m.Mutable(field(m, "representation")).Message(), r.Representation)
	}
}

func (r *PutResponse) decode(m protoreflect.Message) {
	r.FileID = getString(m, "file_id")
	r.Copy = getString(m, "copy")
	r.BytesWritten = getInt(m, "bytes_written")
	r.Size = getInt(m, "size")
	r.Complete = getBool(m, "complete")
	r.Representation = nil
	if f := field(m, "representation"); m.Has(f) {
		sub := m.Get(f).Message()
		r.Representation = &model.Representation{
			Name:        getString(sub, "name"),
			ContentType: getString(sub, "content_type"),
			Size:        getInt(sub, "size"),
			Checksum:    getString(sub, "checksum"),
		}
	}
}

// Ключ хранилища и время публикации наружу не отдаются.
func encodeRepresentation(m protoreflect.Message, rep *model.Representation) {
	setString(m, "name", rep.Name)
	setString(m, "content_type", rep.ContentType)
	setInt(m, "size", rep.Size)
	setString(m, "checksum", rep.Checksum)
}

// GetRequest — чтение копии; Start и End включительно.
type GetRequest struct {
	ID       string
	Selector string
	Start    *int64
	End      *int64
}

func (*GetRequest) descriptor() protoreflect.MessageDescriptor { return descriptorOf("GetRequest") }

func (r *GetRequest) encode(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "selector", r.Selector)
	setOptInt(m, "start", r.Start)
	setOptInt(m, "end", r.End)
}

func (r *GetRequest) decode(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Selector = getString(m, "selector")
	r.Start = getOptInt(m, "start")
	r.End = getOptInt(m, "end")
}

// GetResponse — байты диапазона и описание копии.
type GetResponse struct {
	Data        []byte
	Name        string
	ContentType string
	Size        int64
	Offset      int64
}

func (*GetResponse) descriptor() protoreflect.MessageDescriptor { return descriptorOf("GetResponse") }

func (r *GetResponse) encode(m protoreflect.Message) {
	setBytes(m, "data", r.Data)
	setString(m, "name", r.Name)
	setString(m, "content_type", r.ContentType)
	setInt(m, "size", r.Size)
	setInt(m, "offset", r.Offset)
}

func (r *GetResponse) decode(m protoreflect.Message) {
	r.Data = getBytes(m, "data")
	r.Name = getString(m, "name")
	r.ContentType = getString(m, "content_type")
	r.Size = getInt(m, "size")
	r.Offset = getInt(m, "offset")
}

// DelRequest — удаление файла со всеми копиями.
type DelRequest struct {
	ID string
}

func (*DelRequest) descriptor() protoreflect.MessageDescriptor { return descriptorOf("DelRequest") }

func (r *DelRequest) encode(m protoreflect.Message) { setString(m, "id", r.ID) }

func (r *DelRequest) decode(m protoreflect.Message) { r.ID = getString(m, "id") }

// DelResponse — пустой ответ del.
type DelResponse struct{}

func (*DelResponse) descriptor() protoreflect.MessageDescriptor { return descriptorOf("DelResponse") }

func (*DelResponse) encode(protoreflect.Message) {}

func (*DelResponse) decode(protoreflect.Message) {}

// InsertRequest — создание файла с объявлением первой копии.
// Size обязателен.
type InsertRequest struct {
	ID          string
	Selector    string
	Name        string
	ContentType string
	Size        *int64
}

func (*InsertRequest) descriptor() protoreflect.MessageDescriptor { return descriptorOf("InsertRequest") }

func (r *InsertRequest) encode(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "selector", r.Selector)
	setString(m, "name", r.Name)
	setString(m, "content_type", r.ContentType)
	setOptInt(m, "size", r.Size)
}

func (r *InsertRequest) decode(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Selector = getString(m, "selector")
	r.Name = getString(m, "name")
	r.ContentType = getString(m, "content_type")
	r.Size = getOptInt(m, "size")
}

// InsertResponse — созданный дескриптор.
type InsertResponse struct {
	ID         string
	Collection string
	Owner      string
	Pending    map[string]model.PendingCopy
}

func (*InsertResponse) descriptor() protoreflect.MessageDescriptor { return descriptorOf("InsertResponse") }

func (r *InsertResponse) encode(m protoreflect.Message) {
	setString(m, "id", r.ID)
	setString(m, "collection", r.Collection)
	setString(m, "owner", r.Owner)

	selectors := make([]string, 0, len(r.Pending))
	for sel := range r.Pending {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	list := m.Mutable(field(m, "pending")).List()
	for _, sel := range selectors {
		p := r.Pending[sel]
		item := list.NewElement()
		setString(item.Message(), "selector", sel)
		setString(item.Message(), "name", p.Name)
		setString(item.Message(), "content_type", p.ContentType)
		setInt(item.Message(), "size", p.Size)
		list.Append(item)
	}
}

func (r *InsertResponse) decode(m protoreflect.Message) {
	r.ID = getString(m, "id")
	r.Collection = getString(m, "collection")
	r.Owner = getString(m, "owner")

	list := m.Get(field(m, "pending")).List()
	r.Pending = make(map[string]model.PendingCopy, list.Len())
	for i := 0; i < list.Len(); i++ {
		item := list.Get(i).Message()
		r.Pending[getString(item, "selector")] = model.PendingCopy{
			Name:        getString(item, "name"),
			ContentType: getString(item, "content_type"),
			Size:        getInt(item, "size"),
		}
	}
}

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

// Пустые строки и байты не передаются: отсутствие поля читается как "".
func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func setBytes(m protoreflect.Message, name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.Set(field(m, name), protoreflect.ValueOfBytes(v))
	}
}

func setInt(m protoreflect.Message, name protoreflect.Name, v int64) {
	m.Set(field(m, name), protoreflect.ValueOfInt64(v))
}

func setOptInt(m protoreflect.Message, name protoreflect.Name, v *int64) {
	if v != nil {
		setInt(m, name, *v)
	}
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	m.Set(field(m, name), protoreflect.ValueOfBool(v))
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(field(m, name)).String()
}

func getBytes(m protoreflect.Message, name protoreflect.Name) []byte {
	return m.Get(field(m, name)).Bytes()
}

func getInt(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(field(m, name)).Int()
}

// getOptInt возвращает nil, если поле не передано.
func getOptInt(m protoreflect.Message, name protoreflect.Name) *int64 {
	f := field(m, name)
	if !m.Has(f) {
		return nil
	}
	v := m.Get(f).Int()
	return &v
}

func getBool(m protoreflect.Message, name protoreflect.Name) bool {
	return m.Get(field(m, name)).Bool()
}
