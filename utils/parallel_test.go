package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestGroupWorkParallel(t *testing.T) {
	prevFactor := ParallelFactor
	ParallelFactor = 4
	defer func() { ParallelFactor = prevFactor }()

	t.Run("covers every item once in group order", func(t *testing.T) {
		const total = 103
		var groups [][]int
		err := GroupWorkParallel(
			context.Background(),
			total,
			10,
			func(numGroups int) { groups = make([][]int, numGroups) },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				local := make([]int, 0, groupSize)
				return func(memberNum, workNum int) {
						local = append(local, workNum)
					}, func() {
						groups[groupNum] = local
					}
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldHaveLength, 4)

		var merged []int
		for _, g := range groups {
			merged = append(merged, g...)
		}
		test.That(t, merged, test.ShouldHaveLength, total)
		for i, v := range merged {
			test.That(t, v, test.ShouldEqual, i)
		}
	})

	t.Run("small inputs run as one group", func(t *testing.T) {
		var numGroups int
		var mu sync.Mutex
		count := 0
		err := GroupWorkParallel(
			context.Background(),
			5,
			64,
			func(n int) { numGroups = n },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					mu.Lock()
					count++
					mu.Unlock()
				}, nil
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, numGroups, test.ShouldEqual, 1)
		test.That(t, count, test.ShouldEqual, 5)
	})

	t.Run("cancelled context does no work", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := GroupWorkParallel(ctx, 10, 1, func(int) { called = true }, nil)
		test.That(t, err, test.ShouldBeError, context.Canceled)
		test.That(t, called, test.ShouldBeFalse)
	})
}

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 190*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad")

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}
