package ratelog

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWarnfDropsAfterBurst(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	var hook countHook
	logger.AddHook(&hook)

	l := New(logger, 0, 2)
	for i := 0; i < 5; i++ {
		l.Warnf("meter-exhausted", "dropping meter %d", i)
	}

	if hook.count != 2 {
		t.Fatalf("got %d log entries, want 2 (burst)", hook.count)
	}
}

func TestWarnfTracksKindsIndependently(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	var hook countHook
	logger.AddHook(&hook)

	l := New(logger, 0, 1)
	l.Warnf("kind-a", "a")
	l.Warnf("kind-b", "b")
	l.Warnf("kind-a", "a again")

	if hook.count != 2 {
		t.Fatalf("got %d log entries, want 2 (one per kind before exhaustion)", hook.count)
	}
}

func TestNilLimiterIsANoOp(t *testing.T) {
	var l *Limiter
	l.Warnf("kind", "message")
}

func TestFuncAdaptsToWarnSignature(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	var hook countHook
	logger.AddHook(&hook)

	l := New(logger, 0, 1)
	warn := l.Func("port-security")
	warn("dropping %s", "thing")

	if hook.count != 1 {
		t.Fatalf("got %d log entries, want 1", hook.count)
	}
}

type countHook struct {
	count int
}

func (h *countHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *countHook) Fire(*logrus.Entry) error {
	h.count++
	return nil
}
