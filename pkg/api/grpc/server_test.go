package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/cohort-reporting/internal/testutil"
	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
)

var fixedNow = time.Date(2024, time.July, 15, 14, 30, 0, 0, time.UTC)

func startTestServer(t *testing.T, reg store.Registry) (string, func()) {
	t.Helper()
	srv := New(reg,
		WithLogger(testutil.NewTestLogger(t)),
		WithClock(func() time.Time { return fixedNow }))

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.grpc.Serve(lis)

	return lis.Addr().String(), func() {
		srv.grpc.Stop()
	}
}

func seededRegistry(t *testing.T) *store.Store {
	t.Helper()
	reg := store.New()
	for _, d := range testutil.Definitions() {
		if _, err := reg.Create(context.Background(), d); err != nil {
			t.Fatalf("seed %s: %v", d.Name, err)
		}
	}
	return reg
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	return conn
}

func call(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), method, in, out)
	return out, err
}

func TestParse(t *testing.T) {
	addr, cleanup := startTestServer(t, seededRegistry(t))
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	resp, err := call(t, conn, ParseMethod, map[string]any{
		"expression": "[Male] and [EnrolledOnDate|untilDate=${report.startDate}]",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := resp.GetFields()["normalized"].GetStringValue()
	want := "[Male] AND [EnrolledOnDate|untilDate=${report.startDate}]"
	if got != want {
		t.Errorf("normalized = %q, want %q", got, want)
	}
	if n := len(resp.GetFields()["tokens"].GetListValue().GetValues()); n != 3 {
		t.Errorf("expected 3 tokens, got %d", n)
	}
	if _, ok := resp.GetFields()["bindings"]; ok {
		t.Error("bindings should be omitted without a context")
	}
}

func TestParseWithContext(t *testing.T) {
	addr, cleanup := startTestServer(t, seededRegistry(t))
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	resp, err := call(t, conn, ParseMethod, map[string]any{
		"expression": "[AgeRange|maxAge=${report.maxAge}]",
		"context": map[string]any{
			"report": map[string]any{"maxAge": 65},
		},
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	bindings := resp.GetFields()["bindings"].GetListValue().GetValues()
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(bindings))
	}
	values := bindings[0].GetStructValue().GetFields()["values"].GetListValue().GetValues()
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	maxAge := values[1].GetStructValue().GetFields()
	if v := maxAge["value"].GetNumberValue(); v != 65 {
		t.Errorf("maxAge = %v, want 65", v)
	}
	if src := maxAge["source"].GetStringValue(); src != "bound" {
		t.Errorf("maxAge source = %q, want bound", src)
	}
}

func TestParseErrorCodes(t *testing.T) {
	addr, cleanup := startTestServer(t, seededRegistry(t))
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	tests := []struct {
		name       string
		req        map[string]any
		wantCode   codes.Code
		wantReason string
	}{
		{"syntax", map[string]any{"expression": "[Male] [Male]"}, codes.InvalidArgument, "SyntaxError"},
		{"unknown parameter", map[string]any{"expression": "[Male|age=3]"}, codes.InvalidArgument, "UnknownParameterError"},
		{"unresolved", map[string]any{"expression": "[Males]"}, codes.NotFound, "UnresolvedReferenceError"},
		{"bad context", map[string]any{"expression": "[Male]", "context": "nope"}, codes.InvalidArgument, ""},
		{"evaluation", map[string]any{
			"expression": "[EnrolledOnDate|untilDate=soon]",
			"context":    map[string]any{},
		}, codes.InvalidArgument, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, conn, ParseMethod, tt.req)
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("expected a status error, got %v", err)
			}
			if st.Code() != tt.wantCode {
				t.Errorf("code = %v, want %v (%s)", st.Code(), tt.wantCode, st.Message())
			}
			info := errorInfo(st)
			if tt.wantReason == "" {
				if info != nil {
					t.Errorf("unexpected ErrorInfo %v", info)
				}
				return
			}
			if info == nil {
				t.Fatal("expected an ErrorInfo detail")
			}
			if info.GetReason() != tt.wantReason {
				t.Errorf("reason = %q, want %q", info.GetReason(), tt.wantReason)
			}
		})
	}
}

func TestParseUnresolvedSuggestions(t *testing.T) {
	addr, cleanup := startTestServer(t, seededRegistry(t))
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	_, err := call(t, conn, ParseMethod, map[string]any{"expression": "[Male] OR [Enrolled]"})
	st, _ := status.FromError(err)
	info := errorInfo(st)
	if info == nil {
		t.Fatalf("expected an ErrorInfo detail, got %v", err)
	}
	if got := info.GetMetadata()["definition"]; got != "Enrolled" {
		t.Errorf("definition = %q, want Enrolled", got)
	}
	if got := info.GetMetadata()["suggestions"]; got != "EnrolledOnDate" {
		t.Errorf("suggestions = %q, want EnrolledOnDate", got)
	}
	if got := info.GetMetadata()["position"]; got != "10" {
		t.Errorf("position = %q, want 10", got)
	}
}

type failingRegistry struct {
	*store.Store
	err error
}

func (f *failingRegistry) Resolve(context.Context, string) (*definition.Definition, error) {
	return nil, f.err
}

func TestParseResolverFailureIsUnavailable(t *testing.T) {
	addr, cleanup := startTestServer(t, &failingRegistry{Store: store.New(), err: errors.New("connection reset")})
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	_, err := call(t, conn, ParseMethod, map[string]any{"expression": "[Male]"})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", status.Code(err))
	}
}

func TestHumanize(t *testing.T) {
	addr, cleanup := startTestServer(t, seededRegistry(t))
	defer cleanup()
	conn := dial(t, addr)
	defer conn.Close()

	tests := []struct {
		name     string
		req      map[string]any
		wantText string
		wantCode codes.Code
	}{
		{"default reference", map[string]any{"other": "2024-07-15T14:00:00Z"}, "30 minutes ago", codes.OK},
		{"explicit reference", map[string]any{"reference": "2024-07-15", "other": "2024-07-05"}, "10 days ago", codes.OK},
		{"french", map[string]any{"reference": "2024-07-15", "other": "2024-07-05", "locale": "fr"}, "il y a 10 jours", codes.OK},
		{"missing other", map[string]any{}, "", codes.InvalidArgument},
		{"bad reference", map[string]any{"reference": "later", "other": "2024-07-05"}, "", codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := call(t, conn, HumanizeMethod, tt.req)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), tt.wantCode, err)
			}
			if tt.wantCode != codes.OK {
				return
			}
			if got := resp.GetFields()["text"].GetStringValue(); got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func errorInfo(st *status.Status) *errdetails.ErrorInfo {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}
