// Пакет rpc — RPC-поверхность точки доступа поверх gRPC.
//
// Сообщения — protobuf по схеме accesspoint/v1/files.proto, которая
// собирается из descriptorpb при старте; сервисы строятся из таблиц
// маршрутов: коллекция files обслуживает /files/put, /files/get,
// /files/del, /files/insert.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// SchemaFile — имя proto-файла схемы сообщений.
const SchemaFile = "accesspoint/v1/files.proto"

const schemaPackage = "accesspoint.v1"

// schema — дескриптор files.proto. В глобальном реестре не регистрируется.
var schema = mustBuildSchema()

func mustBuildSchema() protoreflect.FileDescriptor {
	str := descriptorpb.FieldDescriptorProto_TYPE_STRING
	i64 := descriptorpb.FieldDescriptorProto_TYPE_INT64
	raw := descriptorpb.FieldDescriptorProto_TYPE_BYTES
	flag := descriptorpb.FieldDescriptorProto_TYPE_BOOL

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(SchemaFile),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Representation",
				scalar("name", 1, str),
				scalar("content_type", 2, str),
				scalar("size", 3, i64),
				scalar("checksum", 4, str),
			),
			message("PendingCopy",
				scalar("selector", 1, str),
				scalar("name", 2, str),
				scalar("content_type", 3, str),
				scalar("size", 4, i64),
			),
			message("PutRequest",
				scalar("id", 1, str),
				scalar("selector", 2, str),
				scalar("data", 3, raw),
				scalar("offset", 4, i64),
			),
			message("PutResponse",
				scalar("file_id", 1, str),
				scalar("copy", 2, str),
				scalar("bytes_written", 3, i64),
				scalar("size", 4, i64),
				scalar("complete", 5, flag),
				nested("representation", 6, "Representation", false),
			),
			message("GetRequest",
				scalar("id", 1, str),
				scalar("selector", 2, str),
				scalar("start", 3, i64),
				scalar("end", 4, i64),
			),
			message("GetResponse",
				scalar("data", 1, raw),
				scalar("name", 2, str),
				scalar("content_type", 3, str),
				scalar("size", 4, i64),
				scalar("offset", 5, i64),
			),
			message("DelRequest",
				scalar("id", 1, str),
			),
			message("DelResponse"),
			message("InsertRequest",
				scalar("id", 1, str),
				scalar("selector", 2, str),
				scalar("name", 3, str),
				scalar("content_type", 4, str),
				scalar("size", 5, i64),
			),
			message("InsertResponse",
				scalar("id", 1, str),
				scalar("collection", 2, str),
				scalar("owner", 3, str),
				nested("pending", 4, "PendingCopy", true),
			),
		},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("rpc: схема %s: %v", SchemaFile, err))
	}
	return fd
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func nested(name string, number int32, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    label.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String("." + schemaPackage + "." + typeName),
	}
}

// descriptorOf возвращает дескриптор сообщения схемы по имени.
func descriptorOf(name protoreflect.Name) protoreflect.MessageDescriptor {
	md := schema.Messages().ByName(name)
	if md == nil {
		panic("rpc: нет сообщения " + string(name))
	}
	return md
}
