package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// grpcEndpoint returns the gRPC endpoint address (host:port).
func grpcEndpoint() string {
	if ep := os.Getenv("COHORT_GRPC_ADDR"); ep != "" {
		return ep
	}
	return "localhost:8788"
}

// invoke calls a method of cohort.v1.ExpressionService, skipping the test
// when the endpoint is unreachable.
func invoke(t *testing.T, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	conn, err := grpc.NewClient(grpcEndpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/cohort.v1.ExpressionService/"+method, in, out)
	if status.Code(err) == codes.Unavailable || status.Code(err) == codes.DeadlineExceeded {
		t.Skipf("no gRPC server at %s: %v", grpcEndpoint(), err)
	}
	return out, err
}

func TestGRPC_Parse(t *testing.T) {
	requireServer(t)

	name := uniqueName("GrpcCohort")
	createDefinition(t, map[string]any{"name": name, "kind": "encounter"})

	resp, err := invoke(t, "Parse", map[string]any{"expression": "[" + name + "] and [" + name + "]"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := resp.GetFields()["normalized"].GetStringValue(); got != "["+name+"] AND ["+name+"]" {
		t.Errorf("normalized = %q", got)
	}
}

func TestGRPC_ParseUnresolved(t *testing.T) {
	requireServer(t)

	_, err := invoke(t, "Parse", map[string]any{"expression": "[" + uniqueName("Missing") + "]"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGRPC_Humanize(t *testing.T) {
	requireServer(t)

	resp, err := invoke(t, "Humanize", map[string]any{
		"reference": "2024-07-15T12:00:00Z",
		"other":     "2024-07-15T11:00:00Z",
		"locale":    "fr",
	})
	if err != nil {
		t.Fatalf("Humanize: %v", err)
	}
	if got := resp.GetFields()["text"].GetStringValue(); got != "il y a une heure" {
		t.Errorf("text = %q, want il y a une heure", got)
	}
}

func TestGRPC_HumanizeMatchesREST(t *testing.T) {
	requireServer(t)

	resp, err := invoke(t, "Humanize", map[string]any{"reference": "2024-07-15", "other": "2023-01-01"})
	if err != nil {
		t.Fatalf("Humanize: %v", err)
	}
	_, body := doJSON(t, http.MethodGet, apiURL("timespan?reference=2024-07-15&other=2023-01-01"), nil)
	if got := resp.GetFields()["phrase"].GetStringValue(); got != body["phrase"] {
		t.Errorf("gRPC phrase %q differs from REST phrase %v", got, body["phrase"])
	}
}
