package output

import (
	"strings"
	"testing"
	"time"

	"github.com/jbweber/hearth/internal/manager"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/vm"
)

// createTestVM creates a VMView for testing.
func createTestVM(name, state string) manager.VMView {
	return manager.VMView{
		ID:        name + "-id",
		Name:      name,
		CPU:       2,
		MemoryKB:  4 * 1024 * 1024,
		VNCPort:   5900,
		State:     state,
		CreatedAt: time.Now().Add(-5 * time.Minute),
		Volumes: []manager.VolumeView{
			{ID: "vol-1", Kind: "disk", Device: "vda", Bus: "virtio", Path: "/data/instance_x/base.qcow2"},
		},
		Interfaces: []manager.InterfaceView{
			{ID: "if-1", MAC: "de:be:59:01:02:03", Network: "default", IP: "192.168.122.10"},
		},
	}
}

func TestTableFormatter_VM(t *testing.T) {
	v := createTestVM("web", "running")
	v.LastTask = &status.TaskStatus{ID: "t1", Name: status.LabelStart, State: status.PhaseFailed, Result: "domain not found"}

	output, err := (&TableFormatter{}).Format(&v)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	for _, want := range []string{"web", "running", "4 GiB", "5900", "vda", "de:be:59:01:02:03", "192.168.122.10", "start (failed)", "domain not found", "5m"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestTableFormatter_VMList(t *testing.T) {
	tests := []struct {
		name       string
		vms        []manager.VMView
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			vms:       []manager.VMView{},
			wantCount: 0,
		},
		{
			name:       "single VM",
			vms:        []manager.VMView{createTestVM("vm1", "running")},
			wantCount:  1,
			wantHeader: true,
		},
		{
			name: "multiple VMs",
			vms: []manager.VMView{
				createTestVM("vm1", "running"),
				createTestVM("vm2", "shut off"),
				createTestVM("vm3", manager.StateUnknown),
			},
			wantCount:  3,
			wantHeader: true,
		},
		{
			name:       "no headers",
			vms:        []manager.VMView{createTestVM("vm1", "running")},
			noHeaders:  true,
			wantCount:  1,
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.Format(tt.vms)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No VMs found") {
					t.Errorf("expected 'No VMs found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "NAME") && strings.Contains(output, "STATE")
			if tt.wantHeader != hasHeader {
				t.Errorf("header present = %v, want %v: %s", hasHeader, tt.wantHeader, output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestTableFormatter_OtherViews(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{
			name: "snapshots",
			value: []manager.SnapshotView{
				{ID: "s1", Name: "clean", State: "shutoff"},
				{ID: "s2", Name: "configured", Parent: "clean", State: "running"},
			},
			want: []string{"PARENT", "clean", "configured", "running"},
		},
		{
			name:  "no snapshots",
			value: []manager.SnapshotView{},
			want:  []string{"No snapshots found"},
		},
		{
			name:  "images",
			value: []storage.Image{{Name: "fedora.qcow2", Format: storage.FormatQCOW2, Size: 1536}},
			want:  []string{"fedora.qcow2", "qcow2", "1.5 KiB"},
		},
		{
			name:  "domains",
			value: []vm.DomainInfo{{Name: "instance_x", UUID: "u-1", State: vm.StateShutOff, CPUs: 2, MemoryKB: 524288}},
			want:  []string{"instance_x", "shut off", "512 MiB"},
		},
		{
			name:  "task",
			value: &status.TaskStatus{ID: "t1", Name: "create_host", State: status.PhaseFailed, Kind: "NotFound", Result: "base image missing"},
			want:  []string{"t1", "failed", "NotFound", "base image missing"},
		},
		{
			name:  "overview",
			value: &manager.Overview{VMs: 3, Running: 1, CPU: 6, MemoryKB: 6 * 1024 * 1024},
			want:  []string{"RUNNING", "6 GiB"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := (&TableFormatter{}).Format(tt.value)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %s", want, output)
				}
			}
		})
	}

	if _, err := (&TableFormatter{}).Format(42); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}

func TestYAMLFormatter(t *testing.T) {
	v := createTestVM("web", "running")
	output, err := (&YAMLFormatter{}).Format(&v)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	for _, field := range []string{"name: web", "cpu: 2", "vnc_port: 5900", "volumes:", "state: running"} {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}

	list, err := (&YAMLFormatter{}).Format([]manager.VMView{createTestVM("vm1", "running"), createTestVM("vm2", "running")})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(list, "---") {
		t.Errorf("expected document separator '---' in output")
	}

	empty, err := (&YAMLFormatter{}).Format([]manager.VMView{})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if empty != "" {
		t.Errorf("expected empty output, got: %s", empty)
	}
}

func TestJSONFormatter(t *testing.T) {
	domains := []vm.DomainInfo{{Name: "instance_x", State: vm.StateRunning}}
	output, err := (&JSONFormatter{}).Format(domains)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.HasPrefix(output, "[") {
		t.Errorf("expected output to start with '[': %s", output)
	}
	if !strings.Contains(output, `"state": "running"`) {
		t.Errorf("expected domain state by name: %s", output)
	}

	empty, err := (&JSONFormatter{}).Format([]manager.VMView(nil))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if empty != "[]\n" {
		t.Errorf("expected %q, got: %q", "[]\n", empty)
	}
}

func TestNewFormatter(t *testing.T) {
	for _, f := range []Format{FormatTable, FormatYAML, FormatJSON} {
		formatter, err := NewFormatter(Options{Format: f})
		if err != nil || formatter == nil {
			t.Errorf("NewFormatter(%s) = %v, %v", f, formatter, err)
		}
	}
	if _, err := NewFormatter(Options{Format: "invalid"}); err == nil {
		t.Error("expected an error for an invalid format")
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{format: "table"},
		{format: "yaml"},
		{format: "json"},
		{format: "xml", wantErr: true},
		{format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"50 days", 50 * 24 * time.Hour, "7w"},
		{"60 days", 60 * 24 * time.Hour, "60d"},
		{"400 days", 400 * 24 * time.Hour, "1y"},
		{"negative", -time.Second, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAge(tt.duration); got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatSizes(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatMemory(2097152), "2 GiB"},
		{formatMemory(524288), "512 MiB"},
		{formatMemory(1000), "1000 KiB"},
		{formatBytes(512), "512 B"},
		{formatBytes(20 << 30), "20.0 GiB"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
