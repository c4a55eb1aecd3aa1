package main

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"mtman/pkg/mtman"
)

// Demo callables. They are package-level so worker processes, which re-run
// this binary, register the same names.
var (
	square = mtman.Define("demo.square", mtman.Func1(func(ctx context.Context, n int) (int, error) {
		return n * n, nil
	}))

	sleep = mtman.Define("demo.sleep", mtman.Func1(func(ctx context.Context, ms int) (int, error) {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return ms, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}))

	// flaky fails roughly one attempt in three.
	flaky = mtman.Define("demo.flaky", mtman.Func1(func(ctx context.Context, n int) (int, error) {
		if rand.Intn(3) == 0 {
			return 0, errors.New("flaky: unlucky attempt")
		}
		return n, nil
	}))
)

func submitDemo(m *mtman.Manager, kind string, n int) error {
	for i := 0; i < n; i++ {
		var err error
		switch kind {
		case "square":
			_, err = m.Submit(square, i)
		case "sleep":
			_, err = m.Submit(sleep, 50+rand.Intn(200))
		case "flaky":
			_, err = m.Submit(flaky, i)
		case "mixed":
			switch i % 3 {
			case 0:
				_, err = m.Submit(square, i)
			case 1:
				_, err = m.Submit(sleep, 100)
			default:
				_, err = m.Submit(flaky, i)
			}
		default:
			return errors.New("unknown demo: " + kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
