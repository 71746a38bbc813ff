package forwardmodel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName   = "haze.forwardmodel.v1.ForwardModel"
	predictMethod = "/" + serviceName + "/Predict"
)

// PredictServer is the server-side handler for the ForwardModel service.
// Requests and responses are structpb.Struct payloads, so no generated code
// is needed on either side.
type PredictServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PredictServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "haze/forwardmodel/v1/forwardmodel.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// modelServer adapts a Model to PredictServer.
type modelServer struct {
	model Model
}

// RegisterServer serves m as the ForwardModel service on s.
func RegisterServer(s grpc.ServiceRegistrar, m Model) {
	s.RegisterService(&serviceDesc, &modelServer{model: m})
}

func (s *modelServer) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	h, err := decodeHistory(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode history: %v", err)
	}
	p, err := s.model.Predict(ctx, h)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Unavailable, "predict: %v", err)
	}
	resp, err := encodePrediction(p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode prediction: %v", err)
	}
	return resp, nil
}

// RemoteClient is a Model backed by a ForwardModel gRPC service.
type RemoteClient struct {
	conn grpc.ClientConnInterface
}

// NewRemoteClient wraps an established connection.
func NewRemoteClient(conn grpc.ClientConnInterface) *RemoteClient {
	return &RemoteClient{conn: conn}
}

func (c *RemoteClient) Predict(ctx context.Context, h History) (Prediction, error) {
	req, err := encodeHistory(h)
	if err != nil {
		return Prediction{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		return Prediction{}, fmt.Errorf("remote predict: %w", err)
	}
	return decodePrediction(resp)
}

func encodeHistory(h History) (*structpb.Struct, error) {
	states := make([]any, len(h.States))
	for i, s := range h.States {
		states[i] = map[string]any{
			"px": s.Position.X, "py": s.Position.Y,
			"vx": s.Velocity.X, "vy": s.Velocity.Y,
		}
	}
	return structpb.NewStruct(map[string]any{
		"dt":      h.Dt,
		"horizon": float64(h.Horizon),
		"states":  states,
	})
}

func decodeHistory(s *structpb.Struct) (History, error) {
	f := s.GetFields()
	dt, ok := f["dt"]
	if !ok {
		return History{}, errors.New("missing dt")
	}
	horizon, ok := f["horizon"]
	if !ok {
		return History{}, errors.New("missing horizon")
	}
	steps := horizon.GetNumberValue()
	if steps != math.Trunc(steps) || steps < 1 || steps > MaxHorizon {
		return History{}, fmt.Errorf("horizon must be an integer in [1, %d], got %g", MaxHorizon, steps)
	}
	h := History{Dt: dt.GetNumberValue(), Horizon: int(steps)}
	if err := h.Validate(); err != nil {
		return History{}, err
	}
	for i, v := range f["states"].GetListValue().GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return History{}, fmt.Errorf("state %d is not an object", i)
		}
		sf := st.GetFields()
		h.States = append(h.States, State{
			Position: r2.Vec{X: sf["px"].GetNumberValue(), Y: sf["py"].GetNumberValue()},
			Velocity: r2.Vec{X: sf["vx"].GetNumberValue(), Y: sf["vy"].GetNumberValue()},
		})
	}
	return h, nil
}

func encodePrediction(p Prediction) (*structpb.Struct, error) {
	mean := make([]any, len(p.Mean))
	for i, m := range p.Mean {
		mean[i] = []any{m.X, m.Y}
	}
	variance := make([]any, len(p.Variance))
	for i, v := range p.Variance {
		variance[i] = v
	}
	return structpb.NewStruct(map[string]any{
		"mean":     mean,
		"variance": variance,
	})
}

func decodePrediction(s *structpb.Struct) (Prediction, error) {
	f := s.GetFields()
	var p Prediction
	for i, v := range f["mean"].GetListValue().GetValues() {
		xy := v.GetListValue().GetValues()
		if len(xy) != 2 {
			return Prediction{}, fmt.Errorf("mean[%d] has %d components", i, len(xy))
		}
		p.Mean = append(p.Mean, r2.Vec{X: xy[0].GetNumberValue(), Y: xy[1].GetNumberValue()})
	}
	for _, v := range f["variance"].GetListValue().GetValues() {
		p.Variance = append(p.Variance, v.GetNumberValue())
	}
	return p, nil
}
