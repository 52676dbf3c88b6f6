package tools

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
)

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{name: "single port", spec: "443", want: []int{443}},
		{name: "comma list", spec: "80, 22,443", want: []int{22, 80, 443}},
		{name: "range", spec: "8000-8003", want: []int{8000, 8001, 8002, 8003}},
		{name: "mixed with duplicates", spec: "80,79-81", want: []int{79, 80, 81}},
		{name: "zero port", spec: "0", wantErr: true},
		{name: "above max", spec: "65536", wantErr: true},
		{name: "inverted range", spec: "90-80", wantErr: true},
		{name: "garbage", spec: "http", wantErr: true},
		{name: "empty", spec: " , ", wantErr: true},
		{name: "too many ports", spec: "1-65535", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePortSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestExecutePortScanFindsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	result, err := executePortScan(context.Background(), Request{
		SessionID: "test",
		Args: map[string]interface{}{
			"host":  "127.0.0.1",
			"ports": strconv.Itoa(port),
		},
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(result, strconv.Itoa(port)+"/tcp open") {
		t.Errorf("expected open port %d in result, got: %s", port, result)
	}
}

func TestExecutePortScanRequiresHost(t *testing.T) {
	if _, err := executePortScan(context.Background(), Request{Args: map[string]interface{}{}}); err == nil {
		t.Error("expected error for missing host")
	}
}
