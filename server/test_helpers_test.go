package server

import (
	"context"
	"os"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/ski/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// testStepLimit bounds reductions in tests so divergent terms terminate.
const testStepLimit = 10

var testWorker *StoreWorker

// TestMain starts one worker shared by the service tests. Each request gets
// a fresh heap, so tests cannot observe each other's terms.
func TestMain(m *testing.M) {
	testWorker = NewStoreWorker(vm.WithInitialCapacity(64))

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// newTestReductionService creates a ReductionService backed by the shared worker.
func newTestReductionService() *ReductionService {
	return NewReductionService(testWorker, testStepLimit, vm.StyleSpaced)
}

func bg() context.Context {
	return context.Background()
}

func connectReq(src string) *connect.Request[wrapperspb.StringValue] {
	return connect.NewRequest(wrapperspb.String(src))
}

// field returns a named field of a response struct, failing the test if it
// is missing.
func field(t *testing.T, s *structpb.Struct, name string) *structpb.Value {
	t.Helper()
	v, ok := s.GetFields()[name]
	if !ok {
		t.Fatalf("response has no field %q: %v", name, s)
	}
	return v
}

// stringList flattens a list value of strings.
func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}
