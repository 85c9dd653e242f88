package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"respec/internal/artifact"
	"respec/internal/gateway/service/session"
)

const SessionServiceName = "respec.v1.SessionService"

const (
	CreateSessionProcedure        = "/" + SessionServiceName + "/CreateSession"
	CloseSessionProcedure         = "/" + SessionServiceName + "/CloseSession"
	ProposeFieldProcedure         = "/" + SessionServiceName + "/ProposeField"
	ProposeSpecificationProcedure = "/" + SessionServiceName + "/ProposeSpecification"
	ProposeTextProcedure          = "/" + SessionServiceName + "/ProposeText"
	ResolveConflictProcedure      = "/" + SessionServiceName + "/ResolveConflict"
	ClearFieldProcedure           = "/" + SessionServiceName + "/ClearField"
	GetStateProcedure             = "/" + SessionServiceName + "/GetState"
)

type (
	structRequest  = connect.Request[structpb.Struct]
	structResponse = connect.Response[structpb.Struct]
)

// SessionHandler serves the session service. Payloads are
// google.protobuf.Struct so clients can speak plain JSON.
type SessionHandler struct {
	svc *session.Service
}

func NewSessionHandler(svc *session.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// NewSessionServiceHandler returns the path prefix and handler for every
// session procedure.
func NewSessionServiceHandler(h *SessionHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	for proc, fn := range map[string]func(context.Context, *structRequest) (*structResponse, error){
		CreateSessionProcedure:        h.CreateSession,
		CloseSessionProcedure:         h.CloseSession,
		ProposeFieldProcedure:         h.ProposeField,
		ProposeSpecificationProcedure: h.ProposeSpecification,
		ProposeTextProcedure:          h.ProposeText,
		ResolveConflictProcedure:      h.ResolveConflict,
		ClearFieldProcedure:           h.ClearField,
		GetStateProcedure:             h.GetState,
	} {
		mux.Handle(proc, connect.NewUnaryHandler(proc, fn, opts...))
	}
	return "/" + SessionServiceName + "/", mux
}

func (h *SessionHandler) CreateSession(ctx context.Context, _ *structRequest) (*structResponse, error) {
	id, err := h.svc.CreateSession(ctx)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{"sessionId": id})
}

func (h *SessionHandler) CloseSession(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := h.svc.CloseSession(ctx, sid); err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{"sessionId": sid, "closed": true})
}

func (h *SessionHandler) ProposeField(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	field := stringField(req.Msg, "field")
	if field == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("field is required"))
	}
	res, ev, err := h.svc.ProposeField(ctx, sid, field, stringField(req.Msg, "value"))
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{"result": res, "event": ev})
}

func (h *SessionHandler) ProposeSpecification(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	specID := stringField(req.Msg, "specId")
	if specID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("specId is required"))
	}
	res, ev, err := h.svc.Propose(ctx, sid, artifact.AddRequest{
		SpecID:           specID,
		Value:            stringField(req.Msg, "value"),
		OriginalRequest:  stringField(req.Msg, "originalRequest"),
		SubstitutionNote: stringField(req.Msg, "substitutionNote"),
		Confidence:       numberField(req.Msg, "confidence"),
		Source:           artifact.SourceUser,
	})
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{"result": res, "event": ev})
}

func (h *SessionHandler) ProposeText(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	text := stringField(req.Msg, "text")
	if text == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("text is required"))
	}
	out, err := h.svc.ProposeText(ctx, sid, text)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(out)
}

func (h *SessionHandler) ResolveConflict(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	conflictID := stringField(req.Msg, "conflictId")
	resolutionID := stringField(req.Msg, "resolutionId")
	if conflictID == "" || resolutionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("conflictId and resolutionId are required"))
	}
	res, ev, err := h.svc.ResolveConflict(ctx, sid, conflictID, resolutionID)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(map[string]any{"result": res, "event": ev})
}

func (h *SessionHandler) ClearField(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	removed, ev, err := h.svc.ClearField(ctx, sid, stringField(req.Msg, "field"))
	if err != nil {
		return nil, toSessionError(err)
	}
	if removed == nil {
		removed = []string{}
	}
	return respond(map[string]any{"removed": removed, "event": ev})
}

func (h *SessionHandler) GetState(ctx context.Context, req *structRequest) (*structResponse, error) {
	sid, err := requireSession(req.Msg)
	if err != nil {
		return nil, err
	}
	st, err := h.svc.State(ctx, sid)
	if err != nil {
		return nil, toSessionError(err)
	}
	return respond(st)
}

func requireSession(msg *structpb.Struct) (string, error) {
	sid := stringField(msg, "sessionId")
	if sid == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("sessionId is required"))
	}
	return sid, nil
}

func respond(v any) (*structResponse, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func toSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, session.ErrUnknownField),
		errors.Is(err, session.ErrUnknownValue),
		errors.Is(err, artifact.ErrUnknownSpecification),
		errors.Is(err, artifact.ErrUnknownResolution),
		errors.Is(err, artifact.ErrMalformedResolution):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, artifact.ErrDatasetNotLoaded),
		errors.Is(err, artifact.ErrNotInitialized):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, fmt.Errorf("session service failed: %w", err))
}
