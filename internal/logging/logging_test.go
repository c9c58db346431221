package logging

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesValidLevel(t *testing.T) {
	l := New("debug")
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", l.GetLevel())
	}
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l := New("not-a-level")
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level fallback, got %v", l.GetLevel())
	}
}

func TestRecoverContainsPanicWithoutPropagating(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	func() {
		defer Recover(l, "test-component")
		panic("boom")
	}()
}

func TestRecoverIsANoOpWithoutAPanic(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	func() {
		defer Recover(l, "test-component")
	}()
}
