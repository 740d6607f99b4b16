package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/folder"
	"github.com/matheus3301/chatsync/internal/mutation"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chatsync.v1.ChatSync"

// Method returns the full gRPC method path for name.
func Method(name string) string {
	return "/" + ServiceName + "/" + name
}

// Deps are the components the service fronts.
type Deps struct {
	Session    string
	DB         *store.DB
	Bus        *bus.Bus
	Machine    *status.Machine
	Sync       *intsync.Coordinator
	Foreground *intsync.ForegroundTracker
	Mutations  *mutation.Manager
	Receipts   *receipt.Dispatcher
	Folders    *folder.Service
	Outbox     *outbox.Sender
	// Push reports push channel connectivity; optional.
	Push   interface{ Connected() bool }
	Logger *zap.Logger
}

// Service implements the ChatSync gRPC service.
type Service struct {
	Deps
	startedAt time.Time
	now       func() time.Time
}

// NewService creates the gRPC service.
func NewService(d Deps) *Service {
	return &Service{Deps: d, startedAt: time.Now(), now: time.Now}
}

type unaryFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// unary adapts a typed handler to the wire format.
func unary[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) unaryFunc {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		var req Req
		if err := Decode(in, &req); err != nil {
			return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, toStatus(err)
		}
		return Encode(resp)
	}
}

func (s *Service) unaryMethods() map[string]unaryFunc {
	return map[string]unaryFunc{
		"GetStatus":            unary(s.GetStatus),
		"RefreshChats":         unary(s.RefreshChats),
		"GetChatInfo":          unary(s.GetChatInfo),
		"ListChats":            unary(s.ListChats),
		"ListMessages":         unary(s.ListMessages),
		"SyncMessages":         unary(s.SyncMessages),
		"SearchMessages":       unary(s.SearchMessages),
		"MarkChatAsRead":       unary(s.MarkChatAsRead),
		"Mute":                 unary(s.Mute),
		"Unmute":               unary(s.Unmute),
		"Pin":                  unary(s.Pin),
		"Unpin":                unary(s.Unpin),
		"Hide":                 unary(s.Hide),
		"Unhide":               unary(s.Unhide),
		"MoveToFolder":         unary(s.MoveToFolder),
		"DeleteChat":           unary(s.DeleteChat),
		"ClearChatMessages":    unary(s.ClearChatMessages),
		"DeleteMessage":        unary(s.DeleteMessage),
		"LeaveGroup":           unary(s.LeaveGroup),
		"JoinByInviteCode":     unary(s.JoinByInviteCode),
		"CreateInviteLink":     unary(s.CreateInviteLink),
		"ListFolders":          unary(s.ListFolders),
		"LoadFolders":          unary(s.LoadFolders),
		"CreateFolder":         unary(s.CreateFolder),
		"UpdateFolder":         unary(s.UpdateFolder),
		"DeleteFolder":         unary(s.DeleteFolder),
		"ReorderFolders":       unary(s.ReorderFolders),
		"AddChatsToFolder":     unary(s.AddChatsToFolder),
		"RemoveChatFromFolder": unary(s.RemoveChatFromFolder),
		"SendText":             unary(s.SendText),
	}
}

// chatSyncServer is checked by grpc against the registered implementation.
type chatSyncServer interface {
	GetStatus(ctx context.Context, req Empty) (Status, error)
	WatchChats(ctx context.Context, req ListChatsRequest, send func(ChatList) error) error
	WatchMessages(ctx context.Context, req MessagesRequest, send func(MessageList) error) error
}

// Desc builds the service descriptor bound to s.
func (s *Service) Desc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*chatSyncServer)(nil),
		Streams: []grpc.StreamDesc{
			{StreamName: "WatchChats", Handler: serverStream(s.WatchChats), ServerStreams: true},
			{StreamName: "WatchMessages", Handler: serverStream(s.WatchMessages), ServerStreams: true},
		},
		Metadata: "chatsync/v1/chatsync.proto",
	}
	for name, fn := range s.unaryMethods() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(Method(name), fn),
		})
	}
	return desc
}

// Register registers the service on srv.
func (s *Service) Register(srv *grpc.Server) {
	srv.RegisterService(s.Desc(), s)
}

func unaryHandler(fullMethod string, fn unaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}

func (s *Service) GetStatus(ctx context.Context, _ Empty) (Status, error) {
	st := Status{
		Session:  s.Session,
		State:    string(s.Machine.Current()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		SelfID:   s.Sync.SelfID(),
	}
	if n, err := s.DB.ChatCount(ctx); err == nil {
		st.ChatCount = n
	}
	if n, err := s.DB.MessageCount(ctx); err == nil {
		st.MessageCount = n
	}
	if at, _, ok, err := s.Sync.Reconciler().LastFullRefresh(ctx); err == nil && ok {
		st.LastRefreshMs = at.UnixMilli()
	}
	if s.Push != nil {
		st.PushConnected = s.Push.Connected()
	}
	return st, nil
}

func (s *Service) RefreshChats(ctx context.Context, _ Empty) (Empty, error) {
	return Empty{}, s.Sync.RefreshChats(ctx)
}

func (s *Service) GetChatInfo(ctx context.Context, req ChatRef) (Chat, error) {
	c, err := s.Sync.GetChatByID(ctx, req.ChatID)
	if err != nil {
		return Chat{}, err
	}
	return chatView(c, s.now()), nil
}

func (s *Service) listChats(ctx context.Context, req ListChatsRequest) (ChatList, error) {
	if req.FolderID == 0 {
		chats, err := s.DB.ListChats(ctx, store.ChatFilter{IncludeHidden: req.IncludeHidden})
		if err != nil {
			return ChatList{}, errors.LocalStore(err, "list chats")
		}
		return chatList(chats, s.now()), nil
	}
	chats, err := s.Folders.Chats(ctx, req.FolderID)
	if err != nil {
		return ChatList{}, err
	}
	return chatList(chats, s.now()), nil
}

func (s *Service) ListChats(ctx context.Context, req ListChatsRequest) (ChatList, error) {
	return s.listChats(ctx, req)
}

func (s *Service) ListMessages(ctx context.Context, req MessagesRequest) (MessageList, error) {
	msgs, err := s.DB.ListMessages(ctx, req.ChatID, req.BeforeMs, req.Limit)
	if err != nil {
		return MessageList{}, errors.LocalStore(err, "list messages")
	}
	return messageList(msgs), nil
}

func (s *Service) SyncMessages(ctx context.Context, req MessagesRequest) (MessageList, error) {
	msgs, err := s.Sync.SyncMessages(ctx, req.ChatID, req.Limit, req.Offset)
	if err != nil {
		return MessageList{}, err
	}
	return messageList(msgs), nil
}

func (s *Service) SearchMessages(ctx context.Context, req SearchRequest) (SearchResults, error) {
	if req.Query == "" {
		return SearchResults{}, errors.InvalidInput("query is required")
	}
	hits, err := s.DB.SearchMessages(ctx, req.Query, req.ChatID, req.Limit)
	if err != nil {
		return SearchResults{}, errors.LocalStore(err, "search messages")
	}
	out := SearchResults{Results: make([]SearchHit, 0, len(hits))}
	for i := range hits {
		out.Results = append(out.Results, SearchHit{Message: messageView(&hits[i].Message), Snippet: hits[i].Snippet})
	}
	return out, nil
}

func (s *Service) MarkChatAsRead(ctx context.Context, req ChatRef) (MarkReadResponse, error) {
	sent, err := s.Receipts.MarkAsRead(ctx, req.ChatID)
	if err != nil && !errors.IsLocalStore(err) {
		// The chat is already marked read locally; the receipt is best effort.
		s.Logger.Warn("read receipt failed", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		return MarkReadResponse{Sent: false}, nil
	}
	return MarkReadResponse{Sent: sent}, err
}

func (s *Service) Mute(ctx context.Context, req MuteRequest) (Empty, error) {
	return Empty{}, s.Mutations.Mute(ctx, req.ChatID, req.Duration)
}

func (s *Service) Unmute(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.Unmute(ctx, req.ChatID)
}

func (s *Service) Pin(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.Pin(ctx, req.ChatID)
}

func (s *Service) Unpin(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.Unpin(ctx, req.ChatID)
}

func (s *Service) Hide(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.Hide(ctx, req.ChatID)
}

func (s *Service) Unhide(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.Unhide(ctx, req.ChatID)
}

func (s *Service) MoveToFolder(ctx context.Context, req MoveRequest) (Empty, error) {
	return Empty{}, s.Mutations.MoveToFolder(ctx, req.ChatID, req.FolderID)
}

func (s *Service) DeleteChat(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.DeleteChat(ctx, req.ChatID)
}

func (s *Service) ClearChatMessages(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.ClearChatMessages(ctx, req.ChatID)
}

func (s *Service) DeleteMessage(ctx context.Context, req MessageRef) (Empty, error) {
	return Empty{}, s.Mutations.DeleteMessage(ctx, req.Key)
}

func (s *Service) LeaveGroup(ctx context.Context, req ChatRef) (Empty, error) {
	return Empty{}, s.Mutations.LeaveGroup(ctx, req.ChatID)
}

func (s *Service) JoinByInviteCode(ctx context.Context, req JoinRequest) (Chat, error) {
	c, err := s.Mutations.JoinByInviteCode(ctx, req.Code)
	if err != nil {
		return Chat{}, err
	}
	return chatView(c, s.now()), nil
}

func (s *Service) CreateInviteLink(ctx context.Context, req InviteRequest) (Invite, error) {
	link, err := s.Mutations.CreateInviteLink(ctx, req.ChatID, req.UsageLimit, time.Duration(req.ExpiresInSeconds)*time.Second)
	if err != nil {
		return Invite{}, err
	}
	inv := Invite{Code: link.Code, MaxUses: link.MaxUses}
	if link.ExpiresAt != nil {
		inv.ExpiresAt = link.ExpiresAt.UnixMilli()
	}
	return inv, nil
}

func (s *Service) folderList(ctx context.Context, folders []store.Folder) (FolderList, error) {
	chats, err := s.DB.ListChats(ctx, store.ChatFilter{})
	if err != nil {
		return FolderList{}, errors.LocalStore(err, "list chats")
	}
	return folderList(folders, chats), nil
}

func (s *Service) ListFolders(ctx context.Context, _ Empty) (FolderList, error) {
	folders, err := s.Folders.List(ctx)
	if err != nil {
		return FolderList{}, err
	}
	return s.folderList(ctx, folders)
}

func (s *Service) LoadFolders(ctx context.Context, _ Empty) (FolderList, error) {
	folders, err := s.Folders.Load(ctx)
	if err != nil {
		return FolderList{}, err
	}
	return s.folderList(ctx, folders)
}

func (s *Service) CreateFolder(ctx context.Context, req Folder) (Folder, error) {
	f, err := s.Folders.Create(ctx, req.ToStore())
	if err != nil {
		return Folder{}, err
	}
	return folderView(f, 0), nil
}

func (s *Service) UpdateFolder(ctx context.Context, req Folder) (Folder, error) {
	f, err := s.Folders.Update(ctx, req.ToStore())
	if err != nil {
		return Folder{}, err
	}
	counts, err := s.Folders.Counts(ctx)
	if err != nil {
		return Folder{}, err
	}
	return folderView(f, counts[f.ID]), nil
}

func (s *Service) DeleteFolder(ctx context.Context, req FolderRef) (Empty, error) {
	return Empty{}, s.Folders.Delete(ctx, req.FolderID)
}

func (s *Service) ReorderFolders(ctx context.Context, req ReorderRequest) (Empty, error) {
	return Empty{}, s.Folders.Reorder(ctx, req.Positions)
}

func (s *Service) AddChatsToFolder(ctx context.Context, req FolderChatsRequest) (Empty, error) {
	return Empty{}, s.Folders.AddChats(ctx, req.FolderID, req.ChatIDs)
}

func (s *Service) RemoveChatFromFolder(ctx context.Context, req FolderChatRequest) (Empty, error) {
	return Empty{}, s.Folders.RemoveChat(ctx, req.FolderID, req.ChatID)
}

func (s *Service) SendText(ctx context.Context, req SendRequest) (SendResponse, error) {
	id, err := s.Outbox.Queue(ctx, req.ChatID, req.Content, req.ReplyTo)
	if err != nil {
		return SendResponse{}, err
	}
	return SendResponse{Key: id.Key()}, nil
}
