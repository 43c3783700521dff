package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/extractor"
	"github.com/example/face-login/internal/logging"
)

// ExtractMethod is the full gRPC method name served by the extractor.
const ExtractMethod = "/facelogin.extractor.v1.FeatureExtractor/Extract"

// ErrExtractorUnavailable is returned while the circuit breaker is open.
var ErrExtractorUnavailable = errors.New("feature extractor unavailable")

// Options tunes the client.
type Options struct {
	// Timeout bounds each Extract call.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultOptions returns the production client settings.
func DefaultOptions() Options {
	return Options{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// DialExtractor returns a ready-to-use client for the feature extractor service.
func DialExtractor(ctx context.Context, addr string, opts Options, logger *zap.Logger, dialOpts ...grpc.DialOption) (extractor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, dialOpts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_extractor", "", err)
		logger.Error("failed to dial feature extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, opts, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, opts Options, logger *zap.Logger) extractor.Client {
	logger = logger.Named("extractor_client")
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = DefaultOptions().FailureThreshold
	}
	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feature-extractor",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A photo without a face, a bad image or a caller hanging up says
			// nothing about the service.
			var (
				noFace  *biometric.NoFaceDetectedError
				invalid *biometric.ValidationError
			)
			return err == nil || errors.As(err, &noFace) || errors.As(err, &invalid) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &grpcExtractor{conn: conn, opts: opts, breaker: breaker, logger: logger}
}

type grpcExtractor struct {
	conn    grpc.ClientConnInterface
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func (g *grpcExtractor) Extract(ctx context.Context, image []byte) (*extractor.Result, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.call(ctx, image)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, logging.NewOperationError("grpcclient.extract", "", fmt.Errorf("%w: %v", ErrExtractorUnavailable, err))
		}
		return nil, err
	}
	return out.(*extractor.Result), nil
}

func (g *grpcExtractor) call(parent context.Context, image []byte) (*extractor.Result, error) {
	ctx := parent
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, g.opts.Timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ExtractMethod, wrapperspb.Bytes(image), resp); err != nil {
		if errors.Is(parent.Err(), context.Canceled) {
			g.logger.Debug("feature extractor call canceled by caller", zap.Error(err))
			return nil, logging.NewOperationError("grpcclient.extract", "", fmt.Errorf("%w: %v", context.Canceled, err))
		}
		if status.Code(err) == codes.InvalidArgument {
			return nil, biometric.NewValidationError("image", "%s", status.Convert(err).Message())
		}
		wrapped := logging.NewOperationError("grpcclient.extract", "", err)
		g.logger.Error("feature extractor call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeResult(resp)
}

func decodeResult(resp *structpb.Struct) (*extractor.Result, error) {
	fields := resp.GetFields()
	faces := int(fields["faces"].GetNumberValue())
	if faces <= 0 {
		return nil, &biometric.NoFaceDetectedError{}
	}

	values := fields["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, fmt.Errorf("extractor reported %d faces but no embedding", faces)
	}
	embedding := make(biometric.Embedding, len(values))
	for i, v := range values {
		embedding[i] = float32(v.GetNumberValue())
	}

	result := &extractor.Result{Embedding: embedding, Faces: faces}
	if box := fields["box"].GetStructValue(); box != nil {
		bf := box.GetFields()
		result.Box = &extractor.FaceBox{
			X:      int(bf["x"].GetNumberValue()),
			Y:      int(bf["y"].GetNumberValue()),
			Width:  int(bf["width"].GetNumberValue()),
			Height: int(bf["height"].GetNumberValue()),
		}
	}
	return result, nil
}
