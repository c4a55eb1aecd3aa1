package task

import (
	"context"
	"fmt"
)

// Func0 adapts a parameterless function.
func Func0[R any](fn func(ctx context.Context) (R, error)) Func {
	return func(ctx context.Context, args Args) (any, error) {
		if args.Len() != 0 {
			return nil, fmt.Errorf("task: want 0 params, got %d", args.Len())
		}
		return fn(ctx)
	}
}

// Func1 adapts a one-parameter function; the param is decoded from JSON.
func Func1[A, R any](fn func(ctx context.Context, a A) (R, error)) Func {
	return func(ctx context.Context, args Args) (any, error) {
		if args.Len() != 1 {
			return nil, fmt.Errorf("task: want 1 param, got %d", args.Len())
		}
		var a A
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Func2 adapts a two-parameter function.
func Func2[A, B, R any](fn func(ctx context.Context, a A, b B) (R, error)) Func {
	return func(ctx context.Context, args Args) (any, error) {
		if args.Len() != 2 {
			return nil, fmt.Errorf("task: want 2 params, got %d", args.Len())
		}
		var (
			a A
			b B
		)
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}
