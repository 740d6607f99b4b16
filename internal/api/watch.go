package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/bus"
)

// serverStream adapts a typed streaming handler to the wire format.
func serverStream[Req, Resp any](fn func(ctx context.Context, req Req, send func(Resp) error) error) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		var req Req
		if err := Decode(in, &req); err != nil {
			return grpcstatus.Error(codes.InvalidArgument, err.Error())
		}
		err := fn(stream.Context(), req, func(resp Resp) error {
			out, err := Encode(resp)
			if err != nil {
				return err
			}
			return stream.SendMsg(out)
		})
		return toStatus(err)
	}
}

// WatchChats sends the filtered chat list now and again after every chat or
// folder change.
func (s *Service) WatchChats(ctx context.Context, req ListChatsRequest, send func(ChatList) error) error {
	ch, unsub := s.Bus.Subscribe(bus.NamespaceStore, 256)
	defer unsub()

	push := func() error {
		list, err := s.listChats(ctx, req)
		if err != nil {
			return err
		}
		return send(list)
	}
	if err := push(); err != nil {
		return err
	}
	for {
		select {
		case evt := <-ch:
			if !strings.HasPrefix(evt.Kind, "store.chat.") && evt.Kind != bus.KindFolderChanged {
				continue
			}
			drain(ch)
			if err := push(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// WatchMessages sends a chat's latest messages now and again after every
// change to that chat's messages. While the stream is open the chat counts
// as on screen, so new messages do not raise its unread counter.
func (s *Service) WatchMessages(ctx context.Context, req MessagesRequest, send func(MessageList) error) error {
	closeView := s.Foreground.Open(req.ChatID)
	defer closeView()

	ch, unsub := s.Bus.Subscribe("store.message.", 256)
	defer unsub()

	push := func() error {
		list, err := s.ListMessages(ctx, MessagesRequest{ChatID: req.ChatID, Limit: req.Limit})
		if err != nil {
			return err
		}
		return send(list)
	}
	if err := push(); err != nil {
		return err
	}
	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(bus.MessageChange); !ok || change.ChatID != req.ChatID {
				continue
			}
			if err := push(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// drain discards queued events; the next send reflects all of them.
func drain(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
