package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/session"
)

// APIKeyMetadata is the metadata key carrying the shared secret.
const APIKeyMetadata = "x-api-key"

// Generator runs one query against a call.
type Generator interface {
	Generate(ctx context.Context, req session.GenerateRequest) (session.GenerateResult, error)
}

// Server hosts TurnService and the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewServer builds a gRPC server whose TurnService requires apiKey.
func NewServer(apiKey string, sessions Generator) *Server {
	s := &Server{
		health: health.NewServer(),
		logger: observability.GetLogger().With().Str("component", "grpc").Logger(),
	}

	s.grpc = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(authInterceptor(apiKey)),
	)

	RegisterTurnServiceServer(s.grpc, &turnService{sessions: sessions, logger: s.logger})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the service not serving and drains in-flight queries until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func authInterceptor(apiKey string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		if !validKey(apiKey, md.Get(APIKeyMetadata)) {
			observability.RecordQuery("grpc", "forbidden")
			return nil, status.Error(codes.PermissionDenied, "could not validate credentials")
		}
		return handler(ctx, req)
	}
}

func validKey(expected string, got []string) bool {
	if expected == "" || len(got) != 1 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got[0])) == 1
}

type turnService struct {
	sessions Generator
	logger   zerolog.Logger
}

// Generate accepts {call_id, first, timeout_seconds, input, talk_timeout_seconds}
// and answers {response, no_content, ended}.
func (t *turnService) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		observability.RecordQuery("grpc", "bad_request")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := t.sessions.Generate(ctx, req)
	switch {
	case err == nil:
		observability.RecordQuery("grpc", "ok")
		return encodeResponse(res.Text, false, false)
	case errors.Is(err, session.ErrNoContent):
		outcome := "no_content"
		if res.Ended {
			outcome = "ended"
		}
		observability.RecordQuery("grpc", outcome)
		return encodeResponse("", true, res.Ended)
	case errors.Is(err, session.ErrReplyPending):
		observability.RecordQuery("grpc", "conflict")
		return nil, status.Error(codes.FailedPrecondition, "previous reply has not been played yet")
	case errors.Is(err, session.ErrInvalidRequest):
		observability.RecordQuery("grpc", "bad_request")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		observability.RecordQuery("grpc", "unavailable")
		return nil, status.Error(codes.Unavailable, "shutting down")
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			observability.RecordQuery("grpc", "canceled")
			return nil, status.FromContextError(ctxErr).Err()
		}
		observability.RecordQuery("grpc", "error")
		t.logger.Error().Err(err).Str("call_id", req.CallID).Msg("Generate failed")
		return nil, status.Error(codes.Internal, "internal error")
	}
}

func decodeRequest(in *structpb.Struct) (session.GenerateRequest, error) {
	fields := in.GetFields()
	req := session.GenerateRequest{
		CallID: fields["call_id"].GetStringValue(),
		First:  fields["first"].GetBoolValue(),
		Input:  fields["input"].GetStringValue(),
	}
	if req.CallID == "" {
		return req, errors.New("call_id is required")
	}

	var err error
	if req.Timeout, err = seconds(fields["timeout_seconds"]); err != nil {
		return req, err
	}
	if req.TalkTimeout, err = seconds(fields["talk_timeout_seconds"]); err != nil {
		return req, err
	}
	return req, nil
}

func seconds(v *structpb.Value) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	secs := v.GetNumberValue()
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, errors.New("timeouts must be non-negative seconds")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func encodeResponse(text string, noContent, ended bool) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]interface{}{
		"response":   text,
		"no_content": noContent,
		"ended":      ended,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
