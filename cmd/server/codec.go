package main

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// codec writes server messages in the encoding a client asked for with the
// encoding query parameter. Commands from clients are always json.
type codec interface {
	write(conn *websocket.Conn, msg WSMessage) error
}

func codecFor(encoding string) (codec, error) {
	switch encoding {
	case "", "json":
		return jsonCodec{}, nil
	case "proto":
		return protoCodec{}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}

type jsonCodec struct{}

func (jsonCodec) write(conn *websocket.Conn, msg WSMessage) error {
	return conn.WriteJSON(msg)
}

// protoCodec sends each message as a binary google.protobuf.Struct with the
// same fields as the json form.
type protoCodec struct{}

func (protoCodec) write(conn *websocket.Conn, msg WSMessage) error {
	s, err := toStruct(msg)
	if err != nil {
		return err
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func toStruct(msg WSMessage) (*structpb.Struct, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}
