package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/ski/compiler"
	"github.com/chazu/ski/vm"
)

// The reduction service is described with protobuf well-known types, so
// Connect, gRPC and gRPC-Web clients can call it without generated stubs.
const (
	ReductionServiceName = "ski.v1.ReductionService"

	ReduceProcedure      = "/" + ReductionServiceName + "/Reduce"
	TraceProcedure       = "/" + ReductionServiceName + "/Trace"
	CheckSyntaxProcedure = "/" + ReductionServiceName + "/CheckSyntax"
)

// TruncatedTrailer is set on a Trace stream that hit the step limit.
const TruncatedTrailer = "Ski-Truncated"

// ReductionService implements the ski.v1.ReductionService handlers.
type ReductionService struct {
	worker   *StoreWorker
	maxSteps int
	style    vm.Style
}

// NewReductionService creates a ReductionService backed by the given worker.
// maxSteps bounds every reduction; zero means unbounded.
func NewReductionService(worker *StoreWorker, maxSteps int, style vm.Style) *ReductionService {
	return &ReductionService{
		worker:   worker,
		maxSteps: maxSteps,
		style:    style,
	}
}

// Handler returns the path prefix and handler serving every procedure of
// the service, in the shape of a generated Connect service handler.
func (svc *ReductionService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ReduceProcedure, connect.NewUnaryHandler(ReduceProcedure, svc.Reduce, opts...))
	mux.Handle(TraceProcedure, connect.NewServerStreamHandler(TraceProcedure, svc.Trace, opts...))
	mux.Handle(CheckSyntaxProcedure, connect.NewUnaryHandler(CheckSyntaxProcedure, svc.CheckSyntax, opts...))
	return "/" + ReductionServiceName + "/", mux
}

// ---------------------------------------------------------------------------
// Reduce
// ---------------------------------------------------------------------------

// Reduce parses the program in the request and reduces it to normal form.
// The response struct carries normal_form, steps (every printed line),
// step_count, rules (firings per combinator) and truncated.
func (svc *ReductionService) Reduce(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	var steps []any
	opts := vm.RunOptions{
		Style:    svc.style,
		MaxSteps: svc.maxSteps,
		Emit: func(line string) error {
			steps = append(steps, line)
			return nil
		},
	}

	res, err := svc.reduce(ctx, req.Msg.GetValue(), opts)
	if err != nil {
		return nil, connectError(err)
	}

	rules := make(map[string]any, len(res.Rules))
	for rule, n := range res.Rules {
		rules[rule.String()] = n
	}

	body, err := structpb.NewStruct(map[string]any{
		"normal_form": res.NormalForm,
		"steps":       steps,
		"step_count":  res.Steps,
		"rules":       rules,
		"truncated":   res.Truncated,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(body), nil
}

// ---------------------------------------------------------------------------
// Trace
// ---------------------------------------------------------------------------

// Trace streams every printed form as it is produced. A reduction stopped
// by the step limit ends normally with the TruncatedTrailer set.
func (svc *ReductionService) Trace(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
	stream *connect.ServerStream[wrapperspb.StringValue],
) error {
	opts := vm.RunOptions{
		Style:    svc.style,
		MaxSteps: svc.maxSteps,
		Emit: func(line string) error {
			return stream.Send(wrapperspb.String(line))
		},
	}

	res, err := svc.reduce(ctx, req.Msg.GetValue(), opts)
	if err != nil {
		return connectError(err)
	}
	stream.ResponseTrailer().Set(TruncatedTrailer, strconv.FormatBool(res.Truncated))
	return nil
}

// ---------------------------------------------------------------------------
// CheckSyntax
// ---------------------------------------------------------------------------

// CheckSyntax parses the program without reducing it. A malformed program
// is not an RPC error: the response has valid=false and the position of the
// first problem.
func (svc *ReductionService) CheckSyntax(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	src := req.Msg.GetValue()
	_, err := svc.worker.Do(func(s *vm.Store) (interface{}, error) {
		return compiler.Parse(s, src)
	})

	fields := map[string]any{"valid": true}
	var perr *compiler.ParseError
	switch {
	case errors.As(err, &perr):
		fields["valid"] = false
		fields["message"] = perr.Msg
		fields["line"] = perr.Pos.Line
		fields["column"] = perr.Pos.Column
	case err != nil:
		return nil, connectError(err)
	}

	body, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(body), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// reduce parses and runs src on the worker's store.
func (svc *ReductionService) reduce(ctx context.Context, src string, opts vm.RunOptions) (vm.RunResult, error) {
	result, err := svc.worker.Do(func(s *vm.Store) (interface{}, error) {
		return reduceSource(ctx, s, src, opts)
	})
	if err != nil {
		return vm.RunResult{}, err
	}
	return result.(vm.RunResult), nil
}

// reduceSource parses src into s and reduces it.
func reduceSource(ctx context.Context, s *vm.Store, src string, opts vm.RunOptions) (vm.RunResult, error) {
	if _, err := compiler.Parse(s, src); err != nil {
		return vm.RunResult{}, err
	}
	return vm.Run(ctx, s, opts)
}

// connectError maps reduction failures onto Connect status codes.
func connectError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, compiler.ErrParse):
		code = connect.CodeInvalidArgument
	case errors.Is(err, vm.ErrHeapExhausted):
		code = connect.CodeResourceExhausted
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	serverLog.Debugf("request failed (%s): %s", code, err)
	return connect.NewError(code, err)
}
