package capture

import (
	"testing"
	"time"

	"github.com/hpungsan/logtrains/internal/config"
)

func intPtr(i int) *int { return &i }

func TestIsTrivial(t *testing.T) {
	ignored := config.DefaultIgnoredCommands

	tests := []struct {
		command string
		want    bool
	}{
		{"", true},
		{"   ", true},
		{"ls", true},
		{"ls -la /tmp", true},
		{"cd ..", true},
		{"sudo ls /root", true},
		{"FOO=1 BAR=2 pwd", true},
		{"/bin/ls", true},
		{"clear", true},
		{"go test ./...", false},
		{"make build", false},
		{"sudo systemctl restart nginx", false},
		{"CGO_ENABLED=0 go build", false},
		{"lsof -i :8080", false},
	}
	for _, tt := range tests {
		if got := IsTrivial(tt.command, ignored); got != tt.want {
			t.Errorf("IsTrivial(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestIsTrivial_CustomList(t *testing.T) {
	if IsTrivial("ls", nil) {
		t.Error("with no ignore list only blank commands are trivial")
	}
	if !IsTrivial("git status", []string{"git"}) {
		t.Error("custom ignore list not honored")
	}
}

func TestProgram(t *testing.T) {
	tests := map[string]string{
		"npm run build":            "npm",
		"env NODE_ENV=prod node x": "node",
		"time make":                "make",
		"/usr/local/bin/cargo b":   "cargo",
		"A=b":                      "",
		"=weird cmd":               "=weird",
	}
	for in, want := range tests {
		if got := Program(in); got != want {
			t.Errorf("Program(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))

	e := Build("  go build ./...  ", "main.go:3: undefined: x", intPtr(2), now)
	if e.Command == nil || *e.Command != "go build ./..." {
		t.Errorf("Command = %v", e.Command)
	}
	if e.Body != "main.go:3: undefined: x\n[exit status 2]\n" {
		t.Errorf("Body = %q", e.Body)
	}
	if e.ByteLength != len(e.Body) {
		t.Errorf("ByteLength = %d, want %d", e.ByteLength, len(e.Body))
	}
	if e.CapturedAt.Location() != time.UTC || !e.CapturedAt.Equal(now) {
		t.Errorf("CapturedAt = %v", e.CapturedAt)
	}
}

func TestBuild_SuccessAndPiped(t *testing.T) {
	e := Build("", "ok\n", intPtr(0), time.Now())
	if e.Command != nil {
		t.Error("blank command should be nil")
	}
	if e.Body != "ok\n" {
		t.Errorf("zero exit status should not be appended: %q", e.Body)
	}

	e = Build("cat x", "data", nil, time.Now())
	if e.Body != "data" || e.ExitCode != nil {
		t.Errorf("entry = %+v", e)
	}
}

func TestBuild_SanitizesInvalidUTF8(t *testing.T) {
	e := Build("x", "bad \xff\xfe byte", nil, time.Now())
	if e.Body != "bad � byte" {
		t.Errorf("Body = %q", e.Body)
	}
}
