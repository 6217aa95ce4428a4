package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestSaga_RollbackRunsInReverse(t *testing.T) {
	log, _ := test.NewNullLogger()
	saga := NewSaga(log)
	var undone []string

	ok := func(context.Context) error { return nil }
	undo := func(name string) func(context.Context) error {
		return func(context.Context) error {
			undone = append(undone, name)
			return nil
		}
	}

	assert.NoError(t, saga.Step(context.Background(), "a", ok, undo("a")))
	assert.NoError(t, saga.Step(context.Background(), "b", ok, undo("b")))

	boom := errors.New("boom")
	err := saga.Step(context.Background(), "c", func(context.Context) error { return boom }, undo("c"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"b", "a"}, undone)
	assert.Equal(t, []string{"b", "a"}, saga.Compensated)
}

func TestSaga_CompensationFailureIsCollected(t *testing.T) {
	log, hook := test.NewNullLogger()
	saga := NewSaga(log)

	_ = saga.Step(context.Background(), "a", func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("gone") })
	err := saga.Step(context.Background(), "b", func(context.Context) error { return errors.New("boom") }, nil)

	assert.EqualError(t, err, "boom")
	assert.Len(t, saga.Errors, 1)
	assert.Empty(t, saga.Compensated)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestSaga_RollbackIgnoresCancellation(t *testing.T) {
	log, _ := test.NewNullLogger()
	saga := NewSaga(log)
	ctx, cancel := context.WithCancel(context.Background())

	var sawErr error
	_ = saga.Step(ctx, "a", func(context.Context) error { return nil },
		func(ctx context.Context) error {
			sawErr = ctx.Err()
			return nil
		})
	cancel()
	_ = saga.Step(ctx, "b", func(ctx context.Context) error { return ctx.Err() }, nil)

	assert.NoError(t, sawErr)
}

func TestSaga_CommitDropsCompensations(t *testing.T) {
	log, _ := test.NewNullLogger()
	saga := NewSaga(log)
	called := false

	_ = saga.Step(context.Background(), "a", func(context.Context) error { return nil },
		func(context.Context) error { called = true; return nil })
	saga.Commit()
	saga.Rollback(context.Background())

	assert.False(t, called)
}
