package sandbox

import (
	"context"
	"errors"
	"reflect"
	goruntime "runtime"
	"testing"
)

func TestAppleRuntime_BuildArgs(t *testing.T) {
	rt := NewAppleRuntime(AppleConfig{Image: "/images/base"}, testLogger())

	req := NewCommandRequest().
		WithWorkDir("/ws").
		WithMount("/ws", "/ws", false).
		WithMount("/ref", "/ref", true).
		WithEnv("FOO", "bar")

	got := rt.buildArgs("ls", req, "warden-sbx-abc")
	want := []string{
		"run", "--rm", "--name", "warden-sbx-abc",
		"--image", "/images/base",
		"--workdir", "/ws",
		"--mount", "type=bind,source=/ws,target=/ws",
		"--mount", "type=bind,source=/ref,target=/ref,readonly",
		"--env", "FOO=bar",
		"--", "sh", "-c", "ls",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs()\n got: %v\nwant: %v", got, want)
	}
}

func TestAppleRuntime_BuildArgsNoImage(t *testing.T) {
	rt := NewAppleRuntime(AppleConfig{}, testLogger())

	got := rt.buildArgs("true", NewCommandRequest(), "")
	want := []string{"run", "--rm", "--", "sh", "-c", "true"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs() = %v, want %v", got, want)
	}
}

func TestAppleRuntime_CleanupArgs(t *testing.T) {
	got := cleanupArgs("warden-sbx-abc")
	want := []string{"delete", "--force", "warden-sbx-abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cleanupArgs() = %v, want %v", got, want)
	}
}

func TestAppleRuntime_NotAvailableOffMacOS(t *testing.T) {
	if goruntime.GOOS == "darwin" {
		t.Skip("macOS host")
	}
	rt := NewAppleRuntime(AppleConfig{}, testLogger())

	if rt.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = true off macOS")
	}
	_, err := rt.Execute(context.Background(), "true", NewCommandRequest())
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("err = %v, want ErrNotAvailable", err)
	}
}
