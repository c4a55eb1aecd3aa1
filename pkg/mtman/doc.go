// Package mtman runs independent tasks in parallel on isolated one-shot
// workers and collects their results.
//
// Tasks are typed Go functions registered by name at package level:
//
//	var square = mtman.Define("square", mtman.Func1(func(ctx context.Context, n int) (int, error) {
//		return n * n, nil
//	}))
//
//	func main() {
//		mtman.Main() // must run first: worker processes re-enter here
//		m, err := mtman.New(mtman.Config{ConcurrencyLimit: mtman.Ptr(2)})
//		...
//		m.Submit(square, 3)
//		results, err := m.Run(ctx)
//	}
//
// By default every attempt runs in a fresh process started from the current
// binary, so the callable must be defined in both parent and child, which
// package-level registration guarantees.
package mtman
