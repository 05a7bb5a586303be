package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/ski/manifest"
	"github.com/chazu/ski/server"
)

// remote is a client of the reduction service.
type remote interface {
	Reduce(ctx context.Context, src string) (*structpb.Struct, error)
	Trace(ctx context.Context, src string, line func(string)) error
	CheckSyntax(ctx context.Context, src string) (*structpb.Struct, error)
	Close() error
}

// remoteCommand handles `skitool remote`.
// Usage:
//
//	skitool remote [-url u] [-grpc] [-trace|-check] [file]
func remoteCommand(args []string) error {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	addr := fs.String("url", "localhost"+manifest.DefaultAddr, "Reduction service address")
	useGRPC := fs.Bool("grpc", false, "Call over gRPC instead of the Connect protocol")
	trace := fs.Bool("trace", false, "Stream each step as the server produces it")
	check := fs.Bool("check", false, "Only check the program's syntax")
	timeout := fs.Duration("timeout", 30*time.Second, "Call timeout")
	fs.Parse(args)

	src, err := readSource(fs.Arg(0))
	if err != nil {
		return err
	}

	base := normalizeAddr(*addr)
	var r remote
	if *useGRPC {
		r, err = newGRPCRemote(base)
		if err != nil {
			return err
		}
	} else {
		r = newConnectRemote(base)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *check:
		res, err := r.CheckSyntax(ctx, src)
		if err != nil {
			return err
		}
		return printCheck(os.Stdout, res)
	case *trace:
		return r.Trace(ctx, src, func(line string) { fmt.Println(line) })
	default:
		res, err := r.Reduce(ctx, src)
		if err != nil {
			return err
		}
		return printReduction(os.Stdout, res)
	}
}

// normalizeAddr ensures the address has an http:// scheme prefix.
func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + strings.TrimSuffix(addr, "/")
}

func printReduction(w io.Writer, res *structpb.Struct) error {
	fields := res.GetFields()
	for _, line := range fields["steps"].GetListValue().GetValues() {
		if _, err := fmt.Fprintln(w, line.GetStringValue()); err != nil {
			return err
		}
	}
	if fields["truncated"].GetBoolValue() {
		fmt.Fprintf(os.Stderr, "stopped after %d steps without reaching normal form\n",
			int(fields["step_count"].GetNumberValue()))
	}
	return nil
}

func printCheck(w io.Writer, res *structpb.Struct) error {
	fields := res.GetFields()
	if fields["valid"].GetBoolValue() {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	_, err := fmt.Fprintf(w, "%d:%d: %s\n",
		int(fields["line"].GetNumberValue()),
		int(fields["column"].GetNumberValue()),
		fields["message"].GetStringValue())
	return err
}

// ---------------------------------------------------------------------------
// Connect client
// ---------------------------------------------------------------------------

type connectRemote struct {
	reduce *connect.Client[wrapperspb.StringValue, structpb.Struct]
	trace  *connect.Client[wrapperspb.StringValue, wrapperspb.StringValue]
	check  *connect.Client[wrapperspb.StringValue, structpb.Struct]
}

func newConnectRemote(base string) *connectRemote {
	return &connectRemote{
		reduce: connect.NewClient[wrapperspb.StringValue, structpb.Struct](http.DefaultClient, base+server.ReduceProcedure),
		trace:  connect.NewClient[wrapperspb.StringValue, wrapperspb.StringValue](http.DefaultClient, base+server.TraceProcedure),
		check:  connect.NewClient[wrapperspb.StringValue, structpb.Struct](http.DefaultClient, base+server.CheckSyntaxProcedure),
	}
}

func (c *connectRemote) Reduce(ctx context.Context, src string) (*structpb.Struct, error) {
	resp, err := c.reduce.CallUnary(ctx, connect.NewRequest(wrapperspb.String(src)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *connectRemote) Trace(ctx context.Context, src string, line func(string)) error {
	stream, err := c.trace.CallServerStream(ctx, connect.NewRequest(wrapperspb.String(src)))
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Receive() {
		line(stream.Msg().GetValue())
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if stream.ResponseTrailer().Get(server.TruncatedTrailer) == "true" {
		fmt.Fprintln(os.Stderr, "stopped at the server's step limit")
	}
	return nil
}

func (c *connectRemote) CheckSyntax(ctx context.Context, src string) (*structpb.Struct, error) {
	resp, err := c.check.CallUnary(ctx, connect.NewRequest(wrapperspb.String(src)))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *connectRemote) Close() error {
	return nil
}

// ---------------------------------------------------------------------------
// gRPC client
// ---------------------------------------------------------------------------

type grpcRemote struct {
	conn *grpc.ClientConn
}

var traceStreamDesc = &grpc.StreamDesc{
	StreamName:    "Trace",
	ServerStreams: true,
}

func newGRPCRemote(base string) (*grpcRemote, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(u.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &grpcRemote{conn: conn}, nil
}

func (g *grpcRemote) Reduce(ctx context.Context, src string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, server.ReduceProcedure, wrapperspb.String(src), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *grpcRemote) Trace(ctx context.Context, src string, line func(string)) error {
	stream, err := g.conn.NewStream(ctx, traceStreamDesc, server.TraceProcedure)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(src)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(wrapperspb.StringValue)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		line(msg.GetValue())
	}
	if vals := stream.Trailer().Get(server.TruncatedTrailer); len(vals) > 0 && vals[0] == "true" {
		fmt.Fprintln(os.Stderr, "stopped at the server's step limit")
	}
	return nil
}

func (g *grpcRemote) CheckSyntax(ctx context.Context, src string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, server.CheckSyntaxProcedure, wrapperspb.String(src), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *grpcRemote) Close() error {
	return g.conn.Close()
}
