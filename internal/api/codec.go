// Package api exposes the sync engine to local clients over gRPC. Requests
// and responses are JSON-shaped views carried in google.protobuf.Struct
// messages, so clients need no generated code.
package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/errors"
)

// Encode converts a view into its wire message.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from a wire message.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// toStatus maps the engine's error taxonomy onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Unknown
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		code = codes.NotFound
	case errors.CodeTransport:
		code = codes.Unavailable
	case errors.CodeRejected:
		code = codes.FailedPrecondition
	case errors.CodeLocalStore, errors.CodeInternal:
		code = codes.Internal
	case errors.CodeInvalidInput:
		code = codes.InvalidArgument
	}
	return grpcstatus.Error(code, err.Error())
}
