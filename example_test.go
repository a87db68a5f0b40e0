package looper_test

import (
	"context"
	"fmt"
	"time"

	"github.com/loopkit/looper"
)

// A Loop drains its mailbox in strict FIFO order, so output ordering is
// deterministic even though the loop runs on its own goroutine.
func Example() {
	loop := looper.NewLoop("main")
	loop.Start()
	defer loop.Stop()

	loop.Post(func(ctx context.Context) {
		fmt.Println("first")
	})
	loop.Post(func(ctx context.Context) {
		fmt.Println("second")
	})

	loop.WaitIdle(context.Background())
	// Output:
	// first
	// second
}

func ExampleLaunch() {
	pool := looper.NewPool(4)
	defer pool.Shutdown()

	loop := looper.NewLoop("main")
	loop.Start()
	defer loop.Stop()

	scope := looper.NewScope(pool)
	defer scope.Cancel()

	done := make(chan struct{})
	looper.Launch(scope, func(ctx context.Context) (int, error) {
		// Runs on a pool worker, off the main loop.
		return 6 * 7, nil
	}, func(ctx context.Context, value int, err error) {
		// Runs back on the main loop.
		fmt.Println("result:", value)
		close(done)
	}, loop)

	<-done
	// Output:
	// result: 42
}

func ExampleAsync() {
	pool := looper.NewPool(4)
	defer pool.Shutdown()

	scope := looper.NewScope(pool)
	defer scope.Teardown(time.Second)

	d, _ := looper.Async(scope, func(ctx context.Context) (string, error) {
		return "fetched", nil
	})

	value, err := d.Await(context.Background())
	fmt.Println(value, err)
	// Output:
	// fetched <nil>
}
